package config

import (
	"os"
	"testing"
)

func TestNumberedCredentialsStopsAtFirstGap(t *testing.T) {
	clearEnv(t, "TEST_KEY", "TEST_KEY_2", "TEST_KEY_3", "TEST_KEY_4")

	os.Setenv("TEST_KEY", "k1")
	os.Setenv("TEST_KEY_2", "k2")
	os.Setenv("TEST_KEY_4", "k4") // gap at _3, must never be reached

	got := numberedCredentials("TEST_KEY", 4)
	if len(got) != 2 {
		t.Fatalf("expected 2 credentials before the gap, got %d: %+v", len(got), got)
	}
	if got[0].Secret != "k1" || got[1].Secret != "k2" {
		t.Fatalf("unexpected credential order: %+v", got)
	}
}

func TestNumberedCredentialsEmptyWhenBaseUnset(t *testing.T) {
	clearEnv(t, "TEST_EMPTY_KEY", "TEST_EMPTY_KEY_2")

	got := numberedCredentials("TEST_EMPTY_KEY", 4)
	if len(got) != 0 {
		t.Fatalf("expected no credentials, got %+v", got)
	}
}

func TestLoadRequiresAtLeastOneAIKey(t *testing.T) {
	clearEnv(t, "AI_KEY", "AI_KEY_2", "AI_KEY_3", "AI_KEY_4")

	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without any AI_KEY")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "AI_KEY", "AI_KEY_2", "AI_KEY_3", "AI_KEY_4",
		"ROTATION_PERIOD_SEC", "SECTION_THRESHOLD", "MAX_SECTION_CACHE")
	os.Setenv("AI_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RotationPeriodSec != 180 {
		t.Fatalf("expected default rotation period 180, got %d", cfg.RotationPeriodSec)
	}
	if cfg.SectionThreshold != 8 {
		t.Fatalf("expected default section threshold 8, got %d", cfg.SectionThreshold)
	}
	if cfg.MaxSectionCache != 20 {
		t.Fatalf("expected default max section cache 20, got %d", cfg.MaxSectionCache)
	}
	if len(cfg.AICredentials) != 1 || cfg.AICredentials[0].Secret != "secret" {
		t.Fatalf("expected one AI credential from AI_KEY, got %+v", cfg.AICredentials)
	}
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}
