package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/denylist"
	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/model"
)

// Manager holds the live policy config and denylist and swaps them on
// reload. Safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	cfg          *PolicyConfig
	hash         string
	deny         *denylist.Denylist
	policyPath   string
	denylistPath string
	log          *zap.Logger
}

// NewManager wraps an already loaded config and denylist. Nil arguments
// fall back to the defaults.
func NewManager(cfg *PolicyConfig, dl *denylist.Denylist, log *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if dl == nil {
		dl = denylist.NewDefault()
	}
	return &Manager{cfg: cfg, hash: hashOf(nil), deny: dl, log: logging.OrNop(log)}
}

// Load reads the policy and denylist files. Empty paths use the files
// under ~/.navguard; missing files use the defaults.
func Load(policyPath, denylistPath string, log *zap.Logger) (*Manager, error) {
	cfg, hash, err := LoadConfigWithHash(policyPath)
	if err != nil {
		return nil, err
	}
	dl, err := denylist.Load(denylistPath)
	if err != nil {
		return nil, err
	}
	m := NewManager(cfg, dl, log)
	m.hash = hash
	m.policyPath = policyPath
	m.denylistPath = denylistPath
	return m, nil
}

// ReloadPolicy re-reads the policy file. On error the current config stays.
func (m *Manager) ReloadPolicy() error {
	cfg, hash, err := LoadConfigWithHash(m.policyPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.hash = hash
	m.mu.Unlock()
	m.log.Info("policy reloaded", zap.String("policy_hash", hash))
	return nil
}

// ReloadDenylist re-reads the denylist file. On error the current list stays.
func (m *Manager) ReloadDenylist() error {
	dl, err := denylist.Load(m.denylistPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.deny = dl
	m.mu.Unlock()
	m.log.Info("denylist reloaded")
	return nil
}

// PolicyPath returns the policy file path the manager reloads from.
func (m *Manager) PolicyPath() string {
	if m.policyPath == "" {
		return DefaultPath()
	}
	return m.policyPath
}

// DenylistPath returns the denylist file path the manager reloads from.
func (m *Manager) DenylistPath() string {
	if m.denylistPath == "" {
		return denylist.DefaultPath()
	}
	return m.denylistPath
}

// Hash returns the SHA-256 of the loaded policy file.
func (m *Manager) Hash() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hash
}

// Config returns a copy of the live config.
func (m *Manager) Config() PolicyConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *m.cfg
	c.Domains = append([]DomainRule(nil), m.cfg.Domains...)
	return c
}

// Denylist returns the live denylist.
func (m *Manager) Denylist() *denylist.Denylist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deny
}

// For returns the effective policy for the host of u. Routed tor: and
// tors: URLs resolve by their plain host.
func (m *Manager) For(u *url.URL) Policy {
	host := ""
	if u != nil {
		host = u.Hostname()
	}
	return m.ForHost(host)
}

// ForHost returns the effective policy for host.
func (m *Manager) ForHost(host string) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Resolve(host)
}

// Evaluate runs the block predicate for u under pol against the live
// denylist.
func (m *Manager) Evaluate(u *url.URL, pol Policy) Verdict {
	return Evaluate(u, pol, m.Denylist())
}

// AllowDeprecatedTLS reports whether host may negotiate TLS below 1.2.
func (m *Manager) AllowDeprecatedTLS(host string) bool {
	return m.ForHost(host).AllowDeprecatedTLS
}

// DangerReasons returns why u is considered dangerous; an empty result
// means safe. An error means the check could not complete and the caller
// must treat the URL as blocked.
func (m *Manager) DangerReasons(ctx context.Context, u *url.URL) ([]model.DangerReason, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("danger check: %w", err)
	}
	if u == nil {
		return nil, errors.New("danger check: missing URL")
	}
	if reason, ok := m.Denylist().Danger(u.Hostname()); ok {
		return []model.DangerReason{reason}, nil
	}
	return nil, nil
}
