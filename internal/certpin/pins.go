package certpin

import (
	"crypto/sha256"
	"crypto/x509"
	"embed"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed pins/*.pem
var embeddedPins embed.FS

// DefaultHosts are the hosts of the product API, pinned to the embedded
// certificates.
var DefaultHosts = []string{
	"api.navguard.dev",
	"ipv4.api.navguard.dev",
	"ipv6.api.navguard.dev",
}

// PinnedHostSet is an immutable set of pinned hosts and the certificates
// they must chain through. Safe for concurrent reads.
type PinnedHostSet struct {
	hosts map[string]struct{}
	certs map[[sha256.Size]byte]*x509.Certificate
}

// NewPinnedHostSet builds a set. Host names are matched case-insensitively
// and without a trailing dot.
func NewPinnedHostSet(hosts []string, certs []*x509.Certificate) *PinnedHostSet {
	s := &PinnedHostSet{
		hosts: make(map[string]struct{}, len(hosts)),
		certs: make(map[[sha256.Size]byte]*x509.Certificate, len(certs)),
	}
	for _, h := range hosts {
		if h = normalizeHost(h); h != "" {
			s.hosts[h] = struct{}{}
		}
	}
	for _, c := range certs {
		if c != nil {
			s.certs[sha256.Sum256(c.Raw)] = c
		}
	}
	return s
}

// Default returns DefaultHosts pinned to the embedded certificates.
func Default() (*PinnedHostSet, error) {
	certs, err := embeddedCertificates()
	if err != nil {
		return nil, err
	}
	return NewPinnedHostSet(DefaultHosts, certs), nil
}

// With returns a new set with extra hosts and certificates added.
func (s *PinnedHostSet) With(hosts []string, certs []*x509.Certificate) *PinnedHostSet {
	return NewPinnedHostSet(append(s.Hosts(), hosts...), append(s.Certificates(), certs...))
}

// Contains reports whether host is pinned.
func (s *PinnedHostSet) Contains(host string) bool {
	if s == nil {
		return false
	}
	_, ok := s.hosts[normalizeHost(host)]
	return ok
}

// Pinned reports whether cert is one of the pinned certificates, compared
// by SHA-256 of its DER encoding.
func (s *PinnedHostSet) Pinned(cert *x509.Certificate) bool {
	if s == nil || cert == nil {
		return false
	}
	_, ok := s.certs[sha256.Sum256(cert.Raw)]
	return ok
}

// Hosts returns the pinned hosts, sorted.
func (s *PinnedHostSet) Hosts() []string {
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Certificates returns the pinned certificates sorted by fingerprint.
func (s *PinnedHostSet) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(s.certs))
	for _, c := range s.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return Fingerprint(out[i]) < Fingerprint(out[j]) })
	return out
}

// Fingerprint returns the lowercase hex SHA-256 of cert's DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// ParsePEM decodes every CERTIFICATE block in data.
func ParsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

// LoadPinDir reads every *.pem file in dir.
func LoadPinDir(dir string) ([]*x509.Certificate, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, fmt.Errorf("listing pins: %w", err)
	}
	var out []*x509.Certificate
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading pin %s: %w", path, err)
		}
		certs, err := ParsePEM(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, certs...)
	}
	return out, nil
}

func embeddedCertificates() ([]*x509.Certificate, error) {
	entries, err := embeddedPins.ReadDir("pins")
	if err != nil {
		return nil, fmt.Errorf("reading embedded pins: %w", err)
	}
	var out []*x509.Certificate
	for _, e := range entries {
		data, err := embeddedPins.ReadFile("pins/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded pin %s: %w", e.Name(), err)
		}
		certs, err := ParsePEM(data)
		if err != nil {
			return nil, fmt.Errorf("embedded pin %s: %w", e.Name(), err)
		}
		out = append(out, certs...)
	}
	return out, nil
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
