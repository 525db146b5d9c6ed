// Package policy decides, per host, which navigation protections apply and
// answers the block, cross-site-scripting and danger questions the
// navigation controller asks.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ppiankov/navguard/internal/tor"
)

// Policy is the effective configuration for one host.
type Policy struct {
	Flags
	Host         string `json:"host"`
	SearchEngine string `json:"search_engine"`
	// Rule is the domain pattern that matched, or "" for the defaults.
	Rule string `json:"rule,omitempty"`
}

// Resolve returns the effective policy for host under cfg.
func (c *PolicyConfig) Resolve(host string) Policy {
	p := Policy{Flags: c.Defaults, Host: host, SearchEngine: c.SearchEngine}
	if p.SearchEngine == "" {
		p.SearchEngine = DefaultSearchEngine
	}
	if host == "" {
		return p
	}
	for _, d := range c.Domains {
		if matchDomain(d.Pattern, host) {
			p.Flags = d.Flags.Apply(p.Flags)
			p.Rule = d.Pattern
			break
		}
	}
	return p
}

// TorifyIfNecessary returns the Tor-routed form of u when the policy asks
// for Tor and u is not routed yet.
func (p Policy) TorifyIfNecessary(u *url.URL) (*url.URL, bool) {
	if !p.UseTor || u == nil || tor.IsRouted(u) {
		return nil, false
	}
	return tor.Route(u)
}

// SearchURL builds the search URL for query.
func (p Policy) SearchURL(query string) (*url.URL, error) {
	tmpl := p.SearchEngine
	if tmpl == "" {
		tmpl = DefaultSearchEngine
	}
	u, err := url.Parse(strings.Replace(tmpl, "%s", url.QueryEscape(query), 1))
	if err != nil {
		return nil, fmt.Errorf("invalid search engine template: %w", err)
	}
	return u, nil
}
