// Package navigation runs the retry state machine for one browsing session:
// it pulls candidates off an action list, decides every request an attempt
// makes and falls back on provisional failure.
package navigation

import (
	"context"
	"net/url"
	"time"

	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/transform"
	"github.com/ppiankov/navguard/internal/upgrade"
)

// Timeouts for one attempt. A candidate with a fallback behind it gives up
// sooner so the fallback gets its turn.
const (
	DefaultTimeout  = 60 * time.Second
	FallbackTimeout = 15 * time.Second
)

// DefaultMaxRewrites bounds pipeline reissues within one navigation
// sequence.
const DefaultMaxRewrites = 10

// State is the controller's position in the load state machine.
type State int

const (
	Idle State = iota
	AwaitingResponse
	Succeeded
	FailedProvisional
	FailedFinal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Succeeded:
		return "succeeded"
	case FailedProvisional:
		return "failed_provisional"
	case FailedFinal:
		return "failed_final"
	default:
		return "unknown"
	}
}

// AttemptID identifies one issued request. Events carrying an older id are
// stale and dropped.
type AttemptID uint64

// Attempt is one request the controller asks its Issuer to send.
type Attempt struct {
	ID       AttemptID
	URL      *url.URL
	Timeout  time.Duration
	Upgraded bool
	// LocalHTML, when set, is rendered without touching the network.
	LocalHTML string
}

// Local reports whether the attempt renders local content.
func (a Attempt) Local() bool {
	return a.LocalHTML != ""
}

// Verdict is the outcome of one navigation decision.
type Verdict int

const (
	Allow Verdict = iota
	Cancel
	Reissue
	Block
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Cancel:
		return "cancel"
	case Reissue:
		return "reissue"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Decision is what the network layer must do with one request.
type Decision struct {
	Verdict Verdict
	// URL is the replacement for Reissue.
	URL *url.URL
	// Stage names the step that decided: a pipeline stage, "policy",
	// "trust", "danger" or "tor".
	Stage    string
	Reason   string
	PolicyID string
	// Attempt is the new attempt a main-frame Reissue started, or zero.
	Attempt AttemptID
}

// Page describes a committed, finished load.
type Page struct {
	URL    *url.URL
	Status int
	Title  string
}

// Event is one decision as recorded for audit.
type Event struct {
	Attempt  AttemptID
	URL      string
	Stage    string
	Verdict  Verdict
	Reason   string
	PolicyID string
}

// Issuer sends attempts to the network. Issue must not block; the outcome
// comes back through the controller's DidFinish, DidFail and
// DidFailProvisional. ctx is cancelled when the attempt is superseded.
type Issuer interface {
	Issue(ctx context.Context, a Attempt)
}

// Policies is the policy collaborator.
type Policies interface {
	For(u *url.URL) policy.Policy
	Evaluate(u *url.URL, pol policy.Policy) policy.Verdict
	DangerReasons(ctx context.Context, u *url.URL) ([]model.DangerReason, error)
}

// Resolver turns user input into candidates.
type Resolver interface {
	Resolve(input string) model.ActionList
}

// Transformer is the URL transform pipeline.
type Transformer interface {
	Run(req transform.Request, state *upgrade.State) transform.Result
}

// TrustGate checks pinned hosts before any content is requested from them.
type TrustGate interface {
	Pinned(host string) bool
	Verify(ctx context.Context, u *url.URL) error
}

// Recorder receives every decision.
type Recorder interface {
	Record(Event)
}
