// Package tor handles the URL forms used for loads routed through the Tor
// network. A routed load is expressed with the tor: (plain) or tors:
// (secure) scheme; everything else in the pipeline sees the canonical
// http/https form.
package tor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/ppiankov/navguard/internal/model"
)

const (
	SchemeTor  = "tor"
	SchemeTors = "tors"
)

// IsRouted reports whether u is in the routed (tor:/tors:) form.
func IsRouted(u *url.URL) bool {
	if u == nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return s == SchemeTor || s == SchemeTors
}

// Normalize returns the canonical web form of u: tor: becomes http: and
// tors: becomes https:. Other URLs are returned as an unchanged copy, so
// Normalize(Normalize(u)) == Normalize(u).
func Normalize(u *url.URL) *url.URL {
	out := model.CloneURL(u)
	if out == nil {
		return nil
	}
	switch strings.ToLower(out.Scheme) {
	case SchemeTor:
		out.Scheme = "http"
	case SchemeTors:
		out.Scheme = "https"
	}
	return out
}

// Route returns the routed form of an http/https URL. ok is false for
// URLs that are already routed or use another scheme.
func Route(u *url.URL) (*url.URL, bool) {
	if u == nil {
		return nil, false
	}
	out := model.CloneURL(u)
	switch strings.ToLower(u.Scheme) {
	case "http":
		out.Scheme = SchemeTor
	case "https":
		out.Scheme = SchemeTors
	default:
		return nil, false
	}
	return out, true
}

// IsOnion reports whether host is an onion service address.
func IsOnion(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "onion" || strings.HasSuffix(host, ".onion")
}

// Dialer returns a context dialer that connects through the SOCKS5 proxy at
// addr (usually a local Tor daemon on 127.0.0.1:9050).
func Dialer(addr string) (proxy.ContextDialer, error) {
	if addr == "" {
		return nil, fmt.Errorf("tor: no SOCKS5 proxy address configured")
	}
	d, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{})
	if err != nil {
		return nil, fmt.Errorf("tor: socks5 dialer for %s: %w", addr, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("tor: socks5 dialer for %s does not support contexts", addr)
	}
	return cd, nil
}

// DialFunc adapts a ContextDialer to http.Transport.DialContext.
func DialFunc(d proxy.ContextDialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.DialContext
}
