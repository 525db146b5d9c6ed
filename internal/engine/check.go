package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ppiankov/navguard/internal/navigation"
	"github.com/ppiankov/navguard/internal/tor"
	"github.com/ppiankov/navguard/internal/transform"
	"github.com/ppiankov/navguard/internal/upgrade"
)

// Step is one rewrite the pipeline applied.
type Step struct {
	Stage   string   `json:"stage"`
	URL     string   `json:"url"`
	Changes []string `json:"changes,omitempty"`
}

// Report is the outcome of a dry-run check.
type Report struct {
	Input      string   `json:"input"`
	Candidates []string `json:"candidates"`
	URL        string   `json:"url"`
	Steps      []Step   `json:"steps,omitempty"`
	Blocked    bool     `json:"blocked"`
	Stage      string   `json:"stage,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	PolicyID   string   `json:"policy_id,omitempty"`
	Danger     []string `json:"danger,omitempty"`
	Pinned     bool     `json:"pinned"`
	Tor        bool     `json:"tor"`
	PolicyHash string   `json:"policy_hash"`
}

// Check runs the decisions a main-frame load of input's first candidate
// would go through, without touching the network: rewrites until the
// pipeline settles, then the block predicate and the danger check.
func (e *Engine) Check(ctx context.Context, input string) (Report, error) {
	actions := e.Resolver.Resolve(input)
	if actions.Empty() {
		return Report{}, fmt.Errorf("%q does not resolve to a URL", input)
	}
	rep := Report{
		Input:      input,
		Candidates: actions.URLs(),
		PolicyHash: e.Policies.Hash(),
	}

	u := actions[0].URL
	var state upgrade.State
	seen := map[string]bool{}
	rejected := func(x *url.URL) bool { return seen[x.String()] }
	for i := 0; i < navigation.DefaultMaxRewrites; i++ {
		state.Dec()
		res := e.Pipeline.Run(transform.Request{
			URL:       u,
			Method:    http.MethodGet,
			MainFrame: true,
			Options:   navigation.PipelineOptions(e.Policies.For(u)),
			Rejected:  rejected,
		}, &state)
		if !res.Changed {
			break
		}
		seen[u.String()] = true
		rep.Steps = append(rep.Steps, Step{Stage: string(res.Stage), URL: res.URL.String(), Changes: res.Changes})
		u = res.URL
	}

	pol := e.Policies.For(u)
	if routed, ok := pol.TorifyIfNecessary(u); ok {
		rep.Steps = append(rep.Steps, Step{Stage: "tor", URL: routed.String()})
		u = routed
	}
	rep.URL = u.String()
	rep.Tor = tor.IsRouted(u)

	plain := tor.Normalize(u)
	rep.Pinned = plain.Scheme == "https" && e.Evaluator.Pins().Contains(plain.Hostname())

	if v := e.Policies.Evaluate(u, pol); v.Blocked {
		rep.Blocked, rep.Stage, rep.Reason, rep.PolicyID = true, "policy", v.Reason, v.PolicyID
		return rep, nil
	}

	reasons, err := e.Policies.DangerReasons(ctx, plain)
	if err != nil {
		rep.Blocked, rep.Stage, rep.Reason, rep.PolicyID = true, "danger", err.Error(), "danger.error"
		return rep, nil
	}
	for _, r := range reasons {
		rep.Danger = append(rep.Danger, string(r))
	}
	if len(reasons) > 0 {
		rep.Blocked, rep.Stage, rep.Reason, rep.PolicyID = true, "danger", rep.Danger[0], "danger.block"
	}
	return rep, nil
}
