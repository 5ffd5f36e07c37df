// Package config loads the enrichment pipeline's configuration from
// environment variables (with an optional .env file for local
// development), following the viper + godotenv idiom used throughout
// this codebase.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Credential is one named secret with an ordinal position in its pool.
type Credential struct {
	ID     int
	Secret string
}

// CacheShardConfig is one remote cache shard's endpoint and auth token.
type CacheShardConfig struct {
	ID       int
	Endpoint string
	Token    string
}

// Config is the fully resolved configuration for one process.
type Config struct {
	StoreURI string `mapstructure:"store_uri"`

	CacheShards   []CacheShardConfig
	CacheDisabled bool `mapstructure:"cache_disabled"`

	AICredentials         []Credential
	PublisherACredential  Credential
	PublisherBCredentials []Credential

	RotationPeriodSec int `mapstructure:"rotation_period_sec"`
	SectionThreshold  int `mapstructure:"section_threshold"`
	MaxSectionCache   int `mapstructure:"max_section_cache"`

	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

var (
	global     *Config
	globalOnce sync.Once
	globalErr  error
)

// Load reads .env (if present), binds environment variables, applies
// defaults, and returns the resolved Config. Safe to call more than
// once; subsequent calls re-resolve.
func Load() (*Config, error) {
	if envFile := ".env"; fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rotation_period_sec", 180)
	v.SetDefault("section_threshold", 8)
	v.SetDefault("max_section_cache", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cache_disabled", false)

	cfg := &Config{
		StoreURI:          v.GetString("store_uri"),
		CacheDisabled:     v.GetBool("cache_disabled"),
		RotationPeriodSec: v.GetInt("rotation_period_sec"),
		SectionThreshold:  v.GetInt("section_threshold"),
		MaxSectionCache:   v.GetInt("max_section_cache"),
		LogLevel:          v.GetString("log_level"),
		HTTPAddr:          v.GetString("http_addr"),
	}

	cfg.AICredentials = numberedCredentials("AI_KEY", 4)
	if len(cfg.AICredentials) == 0 {
		return nil, fmt.Errorf("at least one AI_KEY credential is required")
	}

	if secret := os.Getenv("PUBLISHER_A_KEY"); secret != "" {
		cfg.PublisherACredential = Credential{ID: 1, Secret: secret}
	}
	cfg.PublisherBCredentials = numberedCredentials("PUBLISHER_B_KEY", 5)

	cfg.CacheShards = cacheShards(64)

	return cfg, nil
}

// Get returns the process-wide Config, loading it on first use. Panics
// on load failure: a config layer is expected to be valid by the time
// any component needs it.
func Get() *Config {
	globalOnce.Do(func() {
		global, globalErr = Load()
	})
	if globalErr != nil {
		panic(fmt.Sprintf("config: %v", globalErr))
	}
	return global
}

// numberedCredentials discovers credentials under base, base_2, base_3,
// ... up to maxSuffix, stopping at the first gap; used for AI_KEY /
// AI_KEY_2..AI_KEY_4 and PUBLISHER_B_KEY_{1..5}'s numbered-suffix
// convention.
func numberedCredentials(base string, maxSuffix int) []Credential {
	var out []Credential
	if v := os.Getenv(base); v != "" {
		out = append(out, Credential{ID: 1, Secret: v})
	}
	for i := 2; i <= maxSuffix; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", base, i))
		if v == "" {
			break
		}
		out = append(out, Credential{ID: i, Secret: v})
	}
	return out
}

func cacheShards(maxShards int) []CacheShardConfig {
	var out []CacheShardConfig
	for i := 1; i <= maxShards; i++ {
		endpoint := os.Getenv(fmt.Sprintf("CACHE_URL_%d", i))
		if endpoint == "" {
			break
		}
		token := os.Getenv(fmt.Sprintf("CACHE_TOKEN_%d", i))
		out = append(out, CacheShardConfig{ID: i, Endpoint: endpoint, Token: token})
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
