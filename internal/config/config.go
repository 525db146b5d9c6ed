// Package config holds process-level navguard settings read from
// NAVGUARD_* environment variables. CLI flags override them.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ppiankov/navguard/internal/logging"
)

// Prefix is the environment variable prefix.
const Prefix = "NAVGUARD"

// Config holds all process configuration.
type Config struct {
	Policy  PolicyConfig
	Rules   RulesConfig
	Upgrade UpgradeConfig
	Trust   TrustConfig
	Loader  LoaderConfig
	Audit   AuditConfig
	Log     LogConfig
	Watch   bool `default:"true"`
}

// PolicyConfig locates the policy and denylist YAML files. Empty paths use
// the files under ~/.navguard.
type PolicyConfig struct {
	File     string
	Denylist string
}

// RulesConfig locates the rule store. An empty DB keeps rules in memory.
type RulesConfig struct {
	DB   string
	Seed string
}

// UpgradeConfig locates the HSTS preload list and the HTTPS rulesets.
type UpgradeConfig struct {
	Preload  string
	Rulesets string
}

// TrustConfig extends the compiled-in pin set.
type TrustConfig struct {
	PinDir string
	Hosts  []string
	Strict bool `default:"false"`
}

// LoaderConfig holds network settings.
type LoaderConfig struct {
	TorProxy     string
	RateLimit    float64       `default:"0"`
	Retries      int           `default:"0"`
	Timeout      time.Duration `default:"0s"`
	UserAgent    string        `default:"navguard/1.0"`
	MaxRedirects int           `default:"10"`
}

// AuditConfig locates the decision audit log.
type AuditConfig struct {
	File     string
	Disabled bool `default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `default:"warn"`
	Dev   bool   `default:"false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault reads the environment or falls back to Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Loader: LoaderConfig{
			UserAgent:    "navguard/1.0",
			MaxRedirects: 10,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Watch: true,
	}
}

// Logging converts the log settings for logging.New.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Development = c.Log.Dev
	return lc
}

// Usage lists the recognized variables.
func Usage() []string {
	return []string{
		"NAVGUARD_POLICY_FILE", "NAVGUARD_POLICY_DENYLIST",
		"NAVGUARD_RULES_DB", "NAVGUARD_RULES_SEED",
		"NAVGUARD_UPGRADE_PRELOAD", "NAVGUARD_UPGRADE_RULESETS",
		"NAVGUARD_TRUST_PINDIR", "NAVGUARD_TRUST_HOSTS", "NAVGUARD_TRUST_STRICT",
		"NAVGUARD_LOADER_TORPROXY", "NAVGUARD_LOADER_RATELIMIT", "NAVGUARD_LOADER_RETRIES",
		"NAVGUARD_LOADER_TIMEOUT", "NAVGUARD_LOADER_USERAGENT", "NAVGUARD_LOADER_MAXREDIRECTS",
		"NAVGUARD_AUDIT_FILE", "NAVGUARD_AUDIT_DISABLED",
		"NAVGUARD_LOG_LEVEL", "NAVGUARD_LOG_DEV",
		"NAVGUARD_WATCH",
	}
}
