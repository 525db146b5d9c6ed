package certpin

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// Probe dials addr, completes a TLS handshake and evaluates the presented
// chain for host. The handshake itself does not verify; the verdict is the
// evaluator's alone, so unpinned hosts come back as Defer.
func (e *Evaluator) Probe(ctx context.Context, addr, host string) (Verdict, []*x509.Certificate, error) {
	if host == "" {
		h, _, err := net.SplitHostPort(addr)
		if err != nil {
			return Reject, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		host = h
	}
	d := &tls.Dialer{Config: &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // chain is evaluated below
		MinVersion:         tls.VersionTLS12,
	}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Reject, nil, fmt.Errorf("%w: dialing %s: %w", ErrUnreachable, addr, err)
	}
	defer conn.Close()

	chain := conn.(*tls.Conn).ConnectionState().PeerCertificates
	v, err := e.Evaluate(host, chain)
	return v, chain, err
}
