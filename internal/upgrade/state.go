package upgrade

import (
	"net/url"
	"strings"
)

// pendingDecisions is how many navigation decisions an issued upgrade stays
// recorded for. The decision that issues the upgrade decrements first, so
// the recorded URL survives exactly into the next decision.
const pendingDecisions = 2

// State tracks secure upgrades issued during one navigation sequence. It is
// owned by a single session and is not safe for concurrent use.
type State struct {
	url      string
	pending  int
	upgraded map[string]bool
	excluded map[string]bool
}

// Reset clears everything; called at the start of each top-level load.
func (s *State) Reset() {
	s.url = ""
	s.pending = 0
	s.upgraded = nil
	s.excluded = nil
}

// Dec is called once per navigation decision. When the pending count runs
// out, the recorded URL is forgotten.
func (s *State) Dec() {
	if s.pending == 0 {
		return
	}
	s.pending--
	if s.pending == 0 {
		s.url = ""
	}
}

// Set records that from was upgraded to to.
func (s *State) Set(from, to *url.URL) {
	s.url = to.String()
	s.pending = pendingDecisions
	if s.upgraded == nil {
		s.upgraded = make(map[string]bool)
	}
	s.upgraded[from.String()] = true
}

// URL returns the most recently issued upgrade target, or "".
func (s *State) URL() string {
	return s.url
}

// Consume reports whether u is the recorded upgrade target and, if so,
// clears it so the same upgrade is never applied twice.
func (s *State) Consume(u *url.URL) bool {
	if s.url == "" || u == nil || u.String() != s.url {
		return false
	}
	s.url = ""
	s.pending = 0
	return true
}

// Upgraded reports whether u was already upgraded in this sequence.
func (s *State) Upgraded(u *url.URL) bool {
	return u != nil && s.upgraded[u.String()]
}

// Exclude stops further upgrades to host in this sequence, e.g. after the
// secure variant failed and the plain candidate is being retried.
func (s *State) Exclude(host string) {
	if host == "" {
		return
	}
	if s.excluded == nil {
		s.excluded = make(map[string]bool)
	}
	s.excluded[strings.ToLower(host)] = true
}

// Excluded reports whether host was excluded by Exclude.
func (s *State) Excluded(host string) bool {
	return s.excluded[strings.ToLower(host)]
}

// Eligible reports whether u may be upgraded in this sequence: it is not the
// target of the upgrade just issued, was not upgraded before, and its host
// has not been excluded.
func (s *State) Eligible(u *url.URL) bool {
	if u == nil {
		return false
	}
	if s.url != "" && u.String() == s.url {
		return false
	}
	return !s.Upgraded(u) && !s.Excluded(u.Hostname())
}
