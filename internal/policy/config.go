package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchEngine is used when the config names none. "%s" is replaced
// by the escaped query.
const DefaultSearchEngine = "https://duckduckgo.com/?q=%s"

// Flags are the per-domain navigation switches.
type Flags struct {
	BlockLoad           bool `yaml:"block_load" json:"block_load"`
	PreventXSS          bool `yaml:"prevent_xss" json:"prevent_xss"`
	StripTrackingParams bool `yaml:"strip_tracking_params" json:"strip_tracking_params"`
	SkipRedirects       bool `yaml:"skip_redirects" json:"skip_redirects"`
	UseTor              bool `yaml:"use_tor" json:"use_tor"`
	AllowDeprecatedTLS  bool `yaml:"allow_deprecated_tls" json:"allow_deprecated_tls"`
	TryHTTPS            bool `yaml:"try_https" json:"try_https"`
	HTTPSUpgrade        bool `yaml:"https_upgrade" json:"https_upgrade"`
}

// FlagOverrides sets individual flags for a domain; nil leaves the default.
type FlagOverrides struct {
	BlockLoad           *bool `yaml:"block_load,omitempty"`
	PreventXSS          *bool `yaml:"prevent_xss,omitempty"`
	StripTrackingParams *bool `yaml:"strip_tracking_params,omitempty"`
	SkipRedirects       *bool `yaml:"skip_redirects,omitempty"`
	UseTor              *bool `yaml:"use_tor,omitempty"`
	AllowDeprecatedTLS  *bool `yaml:"allow_deprecated_tls,omitempty"`
	TryHTTPS            *bool `yaml:"try_https,omitempty"`
	HTTPSUpgrade        *bool `yaml:"https_upgrade,omitempty"`
}

// Apply returns f with the overrides set.
func (o FlagOverrides) Apply(f Flags) Flags {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&f.BlockLoad, o.BlockLoad)
	set(&f.PreventXSS, o.PreventXSS)
	set(&f.StripTrackingParams, o.StripTrackingParams)
	set(&f.SkipRedirects, o.SkipRedirects)
	set(&f.UseTor, o.UseTor)
	set(&f.AllowDeprecatedTLS, o.AllowDeprecatedTLS)
	set(&f.TryHTTPS, o.TryHTTPS)
	set(&f.HTTPSUpgrade, o.HTTPSUpgrade)
	return f
}

// DomainRule overrides flags for hosts matching Pattern. Rules are
// evaluated in order (first match wins).
type DomainRule struct {
	Pattern string        `yaml:"pattern"`
	Flags   FlagOverrides `yaml:"flags"`
	Reason  string        `yaml:"reason,omitempty"`
}

// PolicyConfig holds all configurable policy parameters.
type PolicyConfig struct {
	Defaults     Flags        `yaml:"defaults"`
	SearchEngine string       `yaml:"search_engine"`
	Domains      []DomainRule `yaml:"domains"`
}

// DefaultConfig returns the built-in policy config.
func DefaultConfig() *PolicyConfig {
	on := true
	return &PolicyConfig{
		Defaults: Flags{
			BlockLoad:           true,
			PreventXSS:          true,
			StripTrackingParams: true,
			SkipRedirects:       true,
			TryHTTPS:            true,
			HTTPSUpgrade:        true,
		},
		SearchEngine: DefaultSearchEngine,
		Domains: []DomainRule{
			{
				Pattern: "*.onion",
				Flags:   FlagOverrides{UseTor: &on},
				Reason:  "onion services are only reachable over Tor",
			},
		},
	}
}

// DefaultConfigYAML returns the default config as commented YAML, for
// init-policy.
func DefaultConfigYAML() string {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return ""
	}
	return "# navguard navigation policy\n" +
		"# defaults apply to every host; domains override them (first match wins).\n" +
		"# patterns: exact host, *.suffix, prefix*, *contains*\n" +
		string(data)
}

// DefaultPath returns ~/.navguard/policy.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".navguard", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.navguard/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if path == "" || os.IsNotExist(err) {
			return DefaultConfig(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return cfg, hashOf(data), nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

func (c *PolicyConfig) validate() error {
	if c.SearchEngine == "" {
		c.SearchEngine = DefaultSearchEngine
	}
	if !strings.Contains(c.SearchEngine, "%s") {
		return fmt.Errorf("search_engine %q has no %%s placeholder", c.SearchEngine)
	}
	for i, d := range c.Domains {
		if strings.TrimSpace(d.Pattern) == "" {
			return fmt.Errorf("domains[%d]: empty pattern", i)
		}
	}
	return nil
}

// matchDomain checks if pattern applies to host.
// Pattern: *x* for contains, *.suffix for the domain and its subdomains,
// prefix* for prefix, exact otherwise. Matching is case-insensitive.
func matchDomain(pattern, host string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerHost := strings.TrimSuffix(strings.ToLower(host), ".")
	lowerPattern := strings.ToLower(pattern)

	// *x*: contains
	if len(lowerPattern) > 1 && strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerHost, inner)
	}

	// *.example.com: the domain itself and its subdomains
	if strings.HasPrefix(lowerPattern, "*.") {
		suffix := lowerPattern[1:]
		return strings.HasSuffix(lowerHost, suffix) || lowerHost == suffix[1:]
	}

	// *suffix
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerHost, lowerPattern[1:])
	}

	// prefix*
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerHost, lowerPattern[:len(lowerPattern)-1])
	}

	// Exact match
	return lowerHost == lowerPattern
}
