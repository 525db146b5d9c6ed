// Package resolve turns what a user typed into an ordered list of load
// candidates, best first.
package resolve

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/tor"
	"github.com/ppiankov/navguard/internal/upgrade"
)

// PolicySource returns the effective policy for a host; "" asks for the
// defaults.
type PolicySource interface {
	ForHost(host string) policy.Policy
}

// Resolver builds action lists from user input.
type Resolver struct {
	policies PolicySource
}

// New creates a resolver.
func New(policies PolicySource) *Resolver {
	return &Resolver{policies: policies}
}

// Resolve returns the load candidates for input. The list is empty only for
// blank input.
func (r *Resolver) Resolve(input string) model.ActionList {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	if u, ok := explicitURL(input); ok {
		return model.ActionList{model.Load(u, false)}
	}

	if u, ok := hostLike(input); ok {
		pol := r.policy(u.Hostname())
		if pol.TryHTTPS && upgrade.Eligible(u.Hostname()) {
			secure := model.CloneURL(u)
			secure.Scheme = "https"
			return model.ActionList{model.Load(secure, true), model.Load(u, false)}
		}
		return model.ActionList{model.Load(u, false)}
	}

	pol := r.policy("")
	u, err := pol.SearchURL(input)
	if err != nil {
		u, _ = policy.Policy{}.SearchURL(input)
	}
	return model.ActionList{model.Load(u, false)}
}

func (r *Resolver) policy(host string) policy.Policy {
	if r.policies == nil {
		return policy.DefaultConfig().Resolve(host)
	}
	return r.policies.ForHost(host)
}

// explicitURL accepts input that already names a web scheme and a host.
func explicitURL(input string) (*url.URL, bool) {
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", tor.SchemeTor, tor.SchemeTors:
		return u, true
	}
	return nil, false
}

// hostLike parses input as a scheme-less address and reports whether its
// host looks like something that can be loaded directly: localhost, an IP
// literal, anything with an explicit port, an onion service, or a name
// under a known public suffix.
func hostLike(input string) (*url.URL, bool) {
	if strings.ContainsAny(input, " \t\n") {
		return nil, false
	}
	u, err := url.Parse("http://" + input)
	if err != nil || u.Host == "" || u.User != nil {
		return nil, false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, false
	}

	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return nil, false
		}
		return u, true
	}
	if host == "localhost" || net.ParseIP(host) != nil || tor.IsOnion(host) {
		return u, true
	}
	if !strings.Contains(host, ".") {
		return nil, false
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann || suffix == host {
		return nil, false
	}
	return u, true
}
