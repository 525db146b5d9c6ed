// Package transform rewrites navigation URLs through a fixed sequence of
// stages: anonymizing-network normalization, secure upgrade, tracking
// parameter stripping and redirect shortcutting.
package transform

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/tor"
	"github.com/ppiankov/navguard/internal/upgrade"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageNone     Stage = ""
	StageTor      Stage = "tor"
	StageUpgrade  Stage = "upgrade"
	StageStrip    Stage = "strip"
	StageRedirect Stage = "redirect"
)

// Options carries the policy flags gating the optional stages.
type Options struct {
	Upgrade       bool
	Strip         bool
	SkipRedirects bool
}

// Request is the input to one pipeline run.
type Request struct {
	URL       *url.URL
	Method    string
	MainFrame bool
	Options   Options

	// Rejected reports URLs already rejected in this navigation sequence.
	// A stage whose output is rejected is skipped.
	Rejected func(*url.URL) bool
}

func (r Request) isGet() bool {
	return model.NavigationRequest{Method: r.Method}.IsGet()
}

// accept reports whether out is a real rewrite of in that may be issued.
func (r Request) accept(in, out *url.URL) bool {
	if out == nil || out.String() == in.String() {
		return false
	}
	return r.Rejected == nil || !r.Rejected(out)
}

// Result reports the first change the pipeline made. When Changed is false,
// URL is the input after normalization.
type Result struct {
	Changed bool
	URL     *url.URL
	Stage   Stage
	Changes []string
}

// Upgrader is the secure-upgrade source.
type Upgrader interface {
	Upgrade(u *url.URL) (*url.URL, bool)
}

// Stripper removes tracking parameters and names the removed ones.
type Stripper interface {
	Strip(u *url.URL) (*url.URL, []string, error)
}

// Redirector resolves redirector endpoints to their destination.
type Redirector interface {
	Redirect(u *url.URL) (*url.URL, bool, error)
}

// Pipeline runs the stages in order. Any collaborator may be nil, which
// disables its stage.
type Pipeline struct {
	upgrader   Upgrader
	stripper   Stripper
	redirector Redirector
	log        *zap.Logger
}

// New creates a pipeline.
func New(u Upgrader, s Stripper, r Redirector, log *zap.Logger) *Pipeline {
	return &Pipeline{upgrader: u, stripper: s, redirector: r, log: logging.OrNop(log)}
}

// Run applies the stages and returns the first one that changes the URL.
//
// Tor normalization always runs but is never reported as a change by
// itself: it only canonicalizes the URL the later stages see. A rewrite
// equal to its input, or to a rejected URL, counts as no change. Rule store
// errors are logged and treated as no change.
func (p *Pipeline) Run(req Request, state *upgrade.State) Result {
	if req.URL == nil {
		return Result{}
	}
	u := tor.Normalize(req.URL)

	if req.Options.Upgrade && p.upgrader != nil && (state == nil || state.Eligible(u)) {
		if out, ok := p.upgrader.Upgrade(u); ok && req.accept(u, out) {
			if state != nil {
				state.Set(u, out)
			}
			return Result{Changed: true, URL: out, Stage: StageUpgrade, Changes: []string{"https"}}
		}
	}

	if req.Options.Strip && req.MainFrame && req.isGet() && p.stripper != nil {
		out, changes, err := p.stripper.Strip(u)
		switch {
		case err != nil:
			p.log.Warn("parameter stripping failed", zap.String("url", u.Redacted()), zap.Error(err))
		case len(changes) > 0 && req.accept(u, out):
			return Result{Changed: true, URL: out, Stage: StageStrip, Changes: changes}
		}
	}

	if req.Options.SkipRedirects && req.isGet() && p.redirector != nil {
		out, ok, err := p.redirector.Redirect(u)
		switch {
		case err != nil:
			p.log.Warn("redirect lookup failed", zap.String("url", u.Redacted()), zap.Error(err))
		case ok && req.accept(u, out):
			return Result{Changed: true, URL: out, Stage: StageRedirect, Changes: []string{"redirect"}}
		}
	}

	return Result{URL: u}
}
