// Package certpin verifies server identity against a pinned certificate
// set. A pinned host is trusted only when strict chain validation succeeds
// and the validated chain passes through a pinned certificate; hosts
// outside the set are left to default validation.
package certpin

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/breml/rootcerts/embedded"

	"github.com/ppiankov/navguard/internal/model"
)

// Verdict is the outcome of one trust evaluation.
type Verdict int

const (
	// Defer leaves the decision to default validation.
	Defer Verdict = iota
	Accept
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Defer:
		return "defer"
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ErrInvalidInput is returned for an empty host or an empty chain.
var ErrInvalidInput = errors.New("invalid trust input")

// ErrUnreachable is returned by Probe when no handshake completed, so no
// chain was evaluated.
var ErrUnreachable = errors.New("host unreachable")

// Mode selects what happens to hosts outside the pinned set.
type Mode int

const (
	// DeferUnpinned lets unpinned hosts fall back to default validation.
	DeferUnpinned Mode = iota
	// RejectUnpinned refuses every host that is not pinned, for clients
	// that only ever talk to the product API.
	RejectUnpinned
)

// Evaluator checks presented certificate chains. Safe for concurrent use;
// verdicts are never cached.
type Evaluator struct {
	pins  *PinnedHostSet
	roots *x509.CertPool
	mode  Mode
	now   func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRoots replaces the default root pool (Mozilla bundle plus pinned
// certificates).
func WithRoots(pool *x509.CertPool) Option {
	return func(e *Evaluator) { e.roots = pool }
}

// WithMode sets the handling of unpinned hosts.
func WithMode(m Mode) Option {
	return func(e *Evaluator) { e.mode = m }
}

// WithClock sets the time used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator for pins.
func NewEvaluator(pins *PinnedHostSet, opts ...Option) (*Evaluator, error) {
	if pins == nil {
		pins = NewPinnedHostSet(nil, nil)
	}
	e := &Evaluator{pins: pins, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.roots == nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(embedded.MozillaCACertificatesPEM())) {
			return nil, errors.New("parsing embedded Mozilla root certificates")
		}
		for _, c := range pins.Certificates() {
			pool.AddCert(c)
		}
		e.roots = pool
	}
	return e, nil
}

// Pins returns the pinned host set.
func (e *Evaluator) Pins() *PinnedHostSet {
	return e.pins
}

// Roots returns the root pool used for validation.
func (e *Evaluator) Roots() *x509.CertPool {
	return e.roots
}

// Evaluate decides whether chain (leaf first) is trusted for host.
//
// Order: input check, pinned-host check, strict validation against the
// roots, then a pinned certificate must appear in a validated chain. Any
// fault along the way rejects.
func (e *Evaluator) Evaluate(host string, chain []*x509.Certificate) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = Reject, fmt.Errorf("%w: evaluation fault: %v", model.ErrTrustRejected, r)
		}
	}()

	host = normalizeHost(host)
	if host == "" || len(chain) == 0 || chain[0] == nil {
		return Reject, ErrInvalidInput
	}

	if !e.pins.Contains(host) {
		if e.mode == RejectUnpinned {
			return Reject, fmt.Errorf("%w: host %s is not pinned", model.ErrTrustRejected, host)
		}
		return Defer, nil
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		if c != nil {
			intermediates.AddCert(c)
		}
	}
	chains, err := chain[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         e.roots,
		Intermediates: intermediates,
		CurrentTime:   e.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return Reject, fmt.Errorf("%w: %s: %v", model.ErrTrustRejected, host, err)
	}

	for _, verified := range chains {
		for _, c := range verified {
			if e.pins.Pinned(c) {
				return Accept, nil
			}
		}
	}
	return Reject, fmt.Errorf("%w: %s: no pinned certificate in validated chain", model.ErrTrustRejected, host)
}

// TLSConfig returns a copy of base (or a fresh config) that validates
// against the evaluator's roots and runs Evaluate on every handshake.
// MinVersion is TLS 1.2 unless allowDeprecated is set.
func (e *Evaluator) TLSConfig(base *tls.Config, allowDeprecated bool) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.RootCAs = e.roots
	cfg.InsecureSkipVerify = false
	cfg.MinVersion = tls.VersionTLS12
	if allowDeprecated {
		cfg.MinVersion = tls.VersionTLS10
	}
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		// IP literals carry no server name and cannot be pinned.
		if cs.ServerName == "" && e.mode == DeferUnpinned {
			return nil
		}
		v, err := e.Evaluate(cs.ServerName, cs.PeerCertificates)
		if v == Reject {
			if err == nil || !errors.Is(err, model.ErrTrustRejected) {
				err = fmt.Errorf("%w: %v", model.ErrTrustRejected, err)
			}
			return err
		}
		return nil
	}
	return cfg
}
