package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ppiankov/navguard/internal/denylist"
	"github.com/ppiankov/navguard/internal/tor"
)

// Verdict is the outcome of the block predicate.
type Verdict struct {
	Blocked  bool   `json:"blocked"`
	Reason   string `json:"reason,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
}

// allowedSchemes are the schemes a navigation may load at all.
var allowedSchemes = map[string]bool{
	"http":         true,
	"https":        true,
	tor.SchemeTor:  true,
	tor.SchemeTors: true,
	"about":        true,
}

// Evaluate runs the block predicate for u under pol.
//
// Evaluation order (must not be changed):
//  1. Scheme check: only web schemes load, always enforced
//  2. Denylist check when block_load is set
//  3. Cross-site-scripting check when prevent_xss is set
func Evaluate(u *url.URL, pol Policy, dl *denylist.Denylist) Verdict {
	if u == nil {
		return Verdict{Blocked: true, Reason: "missing URL", PolicyID: "url.invalid"}
	}

	// Step 1: scheme
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return Verdict{
			Blocked:  true,
			Reason:   fmt.Sprintf("scheme %q not allowed", u.Scheme),
			PolicyID: "scheme.block",
		}
	}
	if scheme == "about" {
		return Verdict{}
	}

	// Step 2: denylist
	if pol.BlockLoad && dl != nil {
		if blocked, reason := dl.IsBlocked(tor.Normalize(u)); blocked {
			return Verdict{
				Blocked:  true,
				Reason:   fmt.Sprintf("denylisted: %s", reason),
				PolicyID: "denylist.block",
			}
		}
	}

	// Step 3: reflected markup
	if pol.PreventXSS && PotentialXSS(u) {
		return Verdict{
			Blocked:  true,
			Reason:   "potential cross-site scripting in URL",
			PolicyID: "xss.block",
		}
	}

	return Verdict{}
}
