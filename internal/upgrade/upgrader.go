// Package upgrade decides when a plain-text URL should be loaded over
// HTTPS instead, and tracks the upgrades issued during one navigation.
//
// Upgrade knowledge comes from three places, consulted in order: HTTPS
// Everywhere rulesets (which may also rewrite the host or path), HSTS
// preload entries, and hosts learned from earlier successful secure loads.
package upgrade

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/tor"
)

const modeForceHTTPS = "force-https"

// Upgrader answers "should this http URL be tried over https?".
// Safe for concurrent use.
type Upgrader struct {
	mu       sync.RWMutex
	preload  preloadIndex
	rulesets *rulesetIndex
	learned  map[string]bool
}

// New builds an Upgrader from preload entries and rulesets. Disabled
// rulesets (default_off) are skipped.
func New(entries []PreloadEntry, rulesets []*Ruleset) (*Upgrader, error) {
	idx := newRulesetIndex()
	for _, rs := range rulesets {
		if err := idx.add(rs); err != nil {
			return nil, err
		}
	}
	return &Upgrader{
		preload:  indexPreload(entries),
		rulesets: idx,
		learned:  make(map[string]bool),
	}, nil
}

// Learn records that host served a secure load successfully.
func (u *Upgrader) Learn(host string) {
	host = strings.ToLower(host)
	if !Eligible(host) {
		return
	}
	u.mu.Lock()
	u.learned[host] = true
	u.mu.Unlock()
}

// Upgrade returns the secure variant of in, or false when in is not an
// eligible http URL or nothing says its host supports https.
func (u *Upgrader) Upgrade(in *url.URL) (*url.URL, bool) {
	if in == nil || !strings.EqualFold(in.Scheme, "http") || !Eligible(in.Hostname()) {
		return nil, false
	}
	host := strings.ToLower(in.Hostname())

	u.mu.RLock()
	defer u.mu.RUnlock()

	raw := in.String()
	for _, rs := range u.rulesets.lookup(host) {
		if out := rs.apply(raw); out != "" {
			if parsed, err := url.Parse(out); err == nil && parsed.Scheme == "https" {
				return parsed, true
			}
		}
	}

	if u.preloaded(host) || u.learned[host] {
		out := model.CloneURL(in)
		out.Scheme = "https"
		if out.Port() == "80" {
			out.Host = out.Hostname()
		}
		return out, true
	}
	return nil, false
}

// preloaded walks host and its parents looking for a force-https entry;
// parents only count when they include subdomains.
func (u *Upgrader) preloaded(host string) bool {
	if e, ok := u.preload[host]; ok && e.Mode == modeForceHTTPS {
		return true
	}
	for h := host; ; {
		dot := strings.IndexByte(h, '.')
		if dot < 0 {
			return false
		}
		h = h[dot+1:]
		if e, ok := u.preload[h]; ok && e.Mode == modeForceHTTPS && e.IncludeSubDomains {
			return true
		}
	}
}

// Eligible reports whether host can ever be upgraded: IP literals, local
// names and onion services are left alone.
func Eligible(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return false
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return !tor.IsOnion(host)
}
