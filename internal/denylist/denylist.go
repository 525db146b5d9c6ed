package denylist

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/navguard/internal/model"
)

// Patterns holds the raw patterns organized by category.
type Patterns struct {
	// URLs are glob-like patterns matched anywhere in the URL: "*" stays
	// within a path segment, "**" crosses segments.
	URLs []string `yaml:"urls"`
	// Dangerous maps a host to the reason it is flagged. Subdomains of a
	// listed host are flagged too.
	Dangerous map[string]model.DangerReason `yaml:"dangerous"`
}

// Denylist holds compiled patterns for fast matching. Safe for concurrent
// use.
type Denylist struct {
	mu          sync.RWMutex
	urlPatterns []*regexp.Regexp
	dangerous   map[string]model.DangerReason
	raw         Patterns
}

// New creates a Denylist from raw patterns, compiling regexes. Patterns
// that do not compile are skipped.
func New(p Patterns) *Denylist {
	d := &Denylist{dangerous: make(map[string]model.DangerReason)}
	for _, u := range p.URLs {
		d.addURL(u)
	}
	for host, reason := range p.Dangerous {
		d.addDangerous(host, reason)
	}
	return d
}

// NewDefault creates a Denylist with the built-in default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// DefaultPath returns ~/.navguard/denylist.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "denylist.yaml"
	}
	return filepath.Join(home, ".navguard", "denylist.yaml")
}

// Load reads a denylist from a YAML file. Falls back to defaults if the
// file doesn't exist.
func Load(path string) (*Denylist, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, fmt.Errorf("read denylist: %w", err)
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse denylist: %w", err)
	}
	return New(p), nil
}

// IsBlocked checks u against the URL patterns. Returns (blocked, reason).
func (d *Denylist) IsBlocked(u *url.URL) (bool, string) {
	if u == nil {
		return false, ""
	}
	s := strings.ToLower(u.String())

	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, re := range d.urlPatterns {
		if re.MatchString(s) {
			return true, "URL pattern blocked: " + d.raw.URLs[i]
		}
	}
	return false, ""
}

// Danger returns the reason host (or one of its parent domains) is
// flagged as dangerous.
func (d *Denylist) Danger(host string) (model.DangerReason, bool) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for h := host; ; {
		if reason, ok := d.dangerous[h]; ok {
			return reason, true
		}
		dot := strings.IndexByte(h, '.')
		if dot < 0 {
			return "", false
		}
		h = h[dot+1:]
	}
}

// AddPattern adds a pattern to the denylist at runtime. Category is "urls"
// or "dangerous"; for "dangerous" the pattern is "host" or "host=reason".
func (d *Denylist) AddPattern(category, pattern string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch category {
	case "urls":
		if !d.addURL(pattern) {
			return fmt.Errorf("invalid URL pattern %q", pattern)
		}
	case "dangerous":
		host, reason, _ := strings.Cut(pattern, "=")
		if reason == "" {
			reason = string(model.DangerMalware)
		}
		d.addDangerous(host, model.DangerReason(reason))
	default:
		return fmt.Errorf("unknown denylist category %q", category)
	}
	return nil
}

// ToMap returns the raw patterns as a map for serialization.
func (d *Denylist) ToMap() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dangerous := make(map[string]string, len(d.dangerous))
	for h, r := range d.dangerous {
		dangerous[h] = string(r)
	}
	return map[string]any{
		"urls":      append([]string(nil), d.raw.URLs...),
		"dangerous": dangerous,
	}
}

func (d *Denylist) addURL(pattern string) bool {
	compiled, err := regexp.Compile("(?i)" + patternToRegex(pattern))
	if err != nil {
		return false
	}
	d.raw.URLs = append(d.raw.URLs, pattern)
	d.urlPatterns = append(d.urlPatterns, compiled)
	return true
}

func (d *Denylist) addDangerous(host string, reason model.DangerReason) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return
	}
	d.dangerous[host] = reason
}

// patternToRegex converts a simple glob-like pattern to a regex.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	// Restore * as .* for glob-style matching
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	return escaped
}
