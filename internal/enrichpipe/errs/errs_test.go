package errs

import (
	"errors"
	"testing"
)

func TestTerminalEnrichmentFailErrorUnwrapsCause(t *testing.T) {
	err := &TerminalEnrichmentFailError{Attempts: 3, Cause: ErrUpstreamTransient}

	if !errors.Is(err, ErrUpstreamTransient) {
		t.Fatalf("expected errors.Is to see through to the cause")
	}

	var target *TerminalEnrichmentFailError
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to recover the concrete type")
	}
	if target.Attempts != 3 {
		t.Fatalf("expected attempts 3, got %d", target.Attempts)
	}
}

func TestTerminalEnrichmentFailErrorMessage(t *testing.T) {
	err := &TerminalEnrichmentFailError{Attempts: 2, Cause: ErrRateLimit}
	want := "enrichment failed terminally after 2 attempts: rate limit exceeded"
	if got := err.Error(); got != want {
		t.Fatalf("unexpected message: %q", got)
	}
}
