package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/metrics"
	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/tor"
	"github.com/ppiankov/navguard/internal/transform"
	"github.com/ppiankov/navguard/internal/upgrade"
)

const staleReason = "stale attempt"

// Config wires a controller to its collaborators. Policies and Issuer are
// required; everything else may be nil.
type Config struct {
	Policies    Policies
	Issuer      Issuer
	Resolver    Resolver
	Pipeline    Transformer
	Trust       TrustGate
	Delegate    Delegate
	Recorder    Recorder
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	MaxRewrites int
}

// run is the live state of the current attempt.
type run struct {
	Attempt
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller owns the action list and upgrade state of one session. At most
// one attempt is live at a time; events for any other attempt are dropped.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	root     context.Context
	stop     context.CancelFunc
	closed   bool
	nextID   AttemptID
	current  *run
	actions  model.ActionList
	upgrades upgrade.State
	seen     map[string]bool
	rewrites int
	state    State
	loading  *url.URL
	outcome  State
	lastErr  error
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Policies == nil {
		return nil, errors.New("navigation: policies are required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("navigation: issuer is required")
	}
	if cfg.MaxRewrites <= 0 {
		cfg.MaxRewrites = DefaultMaxRewrites
	}
	root, stop := context.WithCancel(context.Background())
	return &Controller{
		cfg:  cfg,
		log:  logging.OrNop(cfg.Log),
		root: root,
		stop: stop,
		seen: make(map[string]bool),
	}, nil
}

// Load stops any in-flight attempt, replaces the action list with list and
// issues its first candidate. An empty list is a no-op.
func (c *Controller) Load(list model.ActionList) error {
	for i, a := range list {
		if a.URL == nil {
			return fmt.Errorf("navigation: action %d has no URL", i)
		}
	}

	var out outbox
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.ErrSessionTornDown
	}
	if list.Empty() {
		c.mu.Unlock()
		return nil
	}
	c.resetLocked()
	c.actions = list.Clone()
	a, _ := c.actions.PopFront()
	c.startLocked(Attempt{URL: a.URL, Upgraded: a.Upgraded, Timeout: c.timeoutLocked()}, a.Upgraded, &out)
	c.mu.Unlock()

	out.deliver(c.cfg.Delegate, c.cfg.Issuer)
	return nil
}

// PipelineOptions maps a host policy onto the transform stages it enables.
func PipelineOptions(pol policy.Policy) transform.Options {
	return transform.Options{
		Upgrade:       pol.HTTPSUpgrade,
		Strip:         pol.StripTrackingParams,
		SkipRedirects: pol.SkipRedirects,
	}
}

// LoadInput resolves what the user typed and loads the candidates.
func (c *Controller) LoadInput(input string) error {
	if c.cfg.Resolver == nil {
		return errors.New("navigation: no resolver configured")
	}
	return c.Load(c.cfg.Resolver.Resolve(input))
}

// LoadURL loads a single URL with no fallback.
func (c *Controller) LoadURL(u *url.URL) error {
	if u == nil {
		return errors.New("navigation: missing URL")
	}
	return c.Load(model.ActionList{model.Load(u, false)})
}

// LoadLocal renders html under base without network access. The attempt
// gets no navigation decisions and is not counted as network use.
func (c *Controller) LoadLocal(html string, base *url.URL) error {
	if html == "" {
		return errors.New("navigation: empty local document")
	}
	if base == nil {
		base = &url.URL{Scheme: "about", Opaque: "blank"}
	}

	var out outbox
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.ErrSessionTornDown
	}
	c.resetLocked()
	c.startLocked(Attempt{URL: base, LocalHTML: html, Timeout: DefaultTimeout}, false, &out)
	c.mu.Unlock()

	out.deliver(c.cfg.Delegate, c.cfg.Issuer)
	return nil
}

// Decide runs the decision steps for one request of attempt id, in order:
// upgrade bookkeeping, the transform pipeline, the block predicate, the
// trust gate and danger check, Tor routing, and finally allow.
//
// A pipeline change or Tor routing of a main-frame request starts a new
// attempt without consuming a candidate. A block on a main-frame request
// ends the navigation with ErrPolicyBlocked or ErrTrustRejected. A pinned
// host that cannot be reached fails the attempt provisionally, so the next
// candidate is tried.
func (c *Controller) Decide(ctx context.Context, id AttemptID, req model.NavigationRequest) Decision {
	var out outbox
	d := c.decide(ctx, id, req, &out)
	out.deliver(c.cfg.Delegate, c.cfg.Issuer)

	c.cfg.Metrics.Decision(d.Verdict.String(), d.Stage)
	if d.Reason != staleReason {
		c.record(id, req.URL, d)
	}
	c.log.Debug("navigation decision",
		zap.Uint64("attempt", uint64(id)),
		zap.String("url", redact(req.URL)),
		zap.Stringer("verdict", d.Verdict),
		zap.String("stage", d.Stage),
		zap.String("reason", d.Reason),
	)
	return d
}

func (c *Controller) decide(ctx context.Context, id AttemptID, req model.NavigationRequest, out *outbox) Decision {
	c.mu.Lock()
	r, ok := c.liveLocked(id)
	if !ok {
		c.mu.Unlock()
		return Decision{Verdict: Cancel, Reason: staleReason}
	}
	if r.Local() {
		c.mu.Unlock()
		return Decision{Verdict: Allow, Stage: "local"}
	}

	// (a) upgrade bookkeeping
	c.upgrades.Dec()
	pol := c.cfg.Policies.For(policyURL(req))

	// (b) transform pipeline
	if c.cfg.Pipeline != nil && req.URL != nil && c.rewrites < c.cfg.MaxRewrites {
		res := c.cfg.Pipeline.Run(transform.Request{
			URL:       req.URL,
			Method:    req.Method,
			MainFrame: req.MainFrame,
			Options:   PipelineOptions(pol),
			Rejected:  c.seenLocked,
		}, &c.upgrades)
		if res.Changed {
			c.rewrites++
			c.seen[req.URL.String()] = true
			upgraded := res.Stage == transform.StageUpgrade
			d := Decision{
				Verdict: Reissue,
				URL:     res.URL,
				Stage:   string(res.Stage),
				Reason:  strings.Join(res.Changes, ","),
			}
			if req.MainFrame {
				next := c.reissueLocked(r, res.URL, r.Upgraded || upgraded, upgraded, out)
				d.Attempt = next.ID
			} else if upgraded {
				c.noteUpgradeLocked(res.URL, out)
			}
			c.mu.Unlock()
			return d
		}
	}

	// (c) block predicate
	if v := c.cfg.Policies.Evaluate(req.URL, pol); v.Blocked {
		err := fmt.Errorf("%s: %w", v.Reason, model.ErrPolicyBlocked)
		if req.MainFrame {
			c.blockLocked(r, req.URL, err, out)
		}
		c.mu.Unlock()
		return Decision{Verdict: Block, Stage: "policy", Reason: v.Reason, PolicyID: v.PolicyID}
	}
	c.mu.Unlock()

	// Trust before danger, both without the lock held.
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.ctx, cancel)()
	stage, policyID, gateErr := c.gate(gctx, req.URL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.liveLocked(id); !ok {
		return Decision{Verdict: Cancel, Reason: staleReason}
	}
	if gateErr != nil && req.MainFrame && errors.Is(gateErr, model.ErrProvisionalLoadFailed) {
		c.failProvisionalLocked(r, gateErr, out)
		return Decision{Verdict: Cancel, Stage: stage, Reason: gateErr.Error(), PolicyID: policyID}
	}
	if gateErr != nil {
		if req.MainFrame {
			c.blockLocked(r, req.URL, gateErr, out)
		}
		return Decision{Verdict: Block, Stage: stage, Reason: gateErr.Error(), PolicyID: policyID}
	}

	// (d) anonymizing network
	if req.MainFrame && req.IsGet() {
		if routed, ok := pol.TorifyIfNecessary(req.URL); ok {
			next := c.reissueLocked(r, routed, r.Upgraded, false, out)
			return Decision{Verdict: Reissue, URL: routed, Stage: "tor", Reason: "use_tor", Attempt: next.ID}
		}
	}

	// (e) allow
	if c.upgrades.Consume(tor.Normalize(req.URL)) {
		r.Upgraded = true
	}
	if req.MainFrame {
		c.setLoadingLocked(req.URL, out)
	}
	return Decision{Verdict: Allow}
}

// policyURL is the URL whose policy governs req: the owning page when
// known, else the request itself.
func policyURL(req model.NavigationRequest) *url.URL {
	if req.MainURL != nil {
		return req.MainURL
	}
	return req.URL
}

// gate runs the trust check for pinned hosts and then the danger check.
// An unreachable pinned host is a provisional failure; any other error
// blocks.
func (c *Controller) gate(ctx context.Context, u *url.URL) (stage, policyID string, err error) {
	plain := tor.Normalize(u)
	if c.cfg.Trust != nil && strings.EqualFold(plain.Scheme, "https") && c.cfg.Trust.Pinned(plain.Hostname()) {
		if err := c.cfg.Trust.Verify(ctx, plain); err != nil {
			if errors.Is(err, model.ErrProvisionalLoadFailed) {
				return "trust", "trust.unreachable", err
			}
			if !errors.Is(err, model.ErrTrustRejected) {
				err = fmt.Errorf("%w: %w", model.ErrTrustRejected, err)
			}
			return "trust", "trust.reject", err
		}
	}

	reasons, err := c.cfg.Policies.DangerReasons(ctx, plain)
	if err != nil {
		return "danger", "danger.error", fmt.Errorf("danger check failed: %w: %w", model.ErrPolicyBlocked, err)
	}
	if len(reasons) > 0 {
		names := make([]string, len(reasons))
		for i, r := range reasons {
			names[i] = string(r)
		}
		return "danger", "danger.block", fmt.Errorf("dangerous site (%s): %w", strings.Join(names, ", "), model.ErrPolicyBlocked)
	}
	return "", "", nil
}

// DidFinish reports that attempt id committed and finished.
func (c *Controller) DidFinish(id AttemptID, page Page) {
	var out outbox
	c.mu.Lock()
	if r, ok := c.liveLocked(id); ok {
		if page.URL == nil {
			page.URL = r.URL
		}
		c.endLocked(Succeeded, nil, func(d Delegate) { d.DidFinishLoad(page) }, &out)
	}
	c.mu.Unlock()
	out.deliver(c.cfg.Delegate, nil)
}

// DidFail reports a failure of attempt id after content was committed.
// There is no retry.
func (c *Controller) DidFail(id AttemptID, err error) {
	switch {
	case err == nil:
		err = model.ErrFinalLoadFailed
	case !errors.Is(err, model.ErrFinalLoadFailed):
		err = fmt.Errorf("%w: %w", model.ErrFinalLoadFailed, err)
	}

	var out outbox
	c.mu.Lock()
	if _, ok := c.liveLocked(id); ok {
		c.endLocked(FailedFinal, err, func(d Delegate) { d.DidFailLoad(err) }, &out)
	}
	c.mu.Unlock()
	out.deliver(c.cfg.Delegate, nil)
}

// DidFailProvisional reports that attempt id failed before any content was
// committed. The next candidate is taken from the back of the list; when
// none remain the navigation fails with ErrFinalLoadFailed.
func (c *Controller) DidFailProvisional(id AttemptID, err error) {
	switch {
	case err == nil:
		err = model.ErrProvisionalLoadFailed
	case !errors.Is(err, model.ErrProvisionalLoadFailed):
		err = fmt.Errorf("%w: %w", model.ErrProvisionalLoadFailed, err)
	}

	var out outbox
	c.mu.Lock()
	if r, ok := c.liveLocked(id); ok {
		c.failProvisionalLocked(r, err, &out)
	}
	c.mu.Unlock()
	out.deliver(c.cfg.Delegate, c.cfg.Issuer)
}

// failProvisionalLocked ends attempt r and starts the next candidate, or
// fails the navigation when none remain. err wraps ErrProvisionalLoadFailed.
func (c *Controller) failProvisionalLocked(r *run, err error, out *outbox) {
	c.cfg.Metrics.Attempt(FailedProvisional.String())
	if r.Upgraded {
		c.upgrades.Exclude(r.URL.Hostname())
	}
	r.cancel()
	c.current = nil
	c.setStateLocked(FailedProvisional, out)

	if next, ok := c.actions.PopBack(); ok {
		c.log.Info("retrying with fallback candidate",
			zap.String("failed", redact(r.URL)),
			zap.String("next", redact(next.URL)),
			zap.Error(err),
		)
		c.startLocked(Attempt{URL: next.URL, Upgraded: next.Upgraded, Timeout: c.timeoutLocked()}, next.Upgraded, out)
		return
	}
	final := fmt.Errorf("%w: %w", model.ErrFinalLoadFailed, err)
	c.endLocked(FailedFinal, final, func(d Delegate) { d.DidFailLoad(final) }, out)
}

// Progress forwards load progress of attempt id.
func (c *Controller) Progress(id AttemptID, progress float64) {
	c.mu.Lock()
	_, ok := c.liveLocked(id)
	c.mu.Unlock()
	if ok && c.cfg.Delegate != nil {
		c.cfg.Delegate.DidMakeProgress(progress)
	}
}

// Close tears the session down. An in-flight attempt is aborted and
// reported as failed with ErrSessionTornDown; later loads return it.
func (c *Controller) Close() {
	var out outbox
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if r := c.current; r != nil {
		err := fmt.Errorf("%s: %w", redact(r.URL), model.ErrSessionTornDown)
		c.endLocked(FailedFinal, err, func(d Delegate) { d.DidFailLoad(err) }, &out)
	}
	c.closed = true
	c.actions = nil
	c.stop()
	c.mu.Unlock()
	out.deliver(c.cfg.Delegate, nil)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome returns the terminal state of the last finished navigation and
// its error, or Idle when none finished yet.
func (c *Controller) Outcome() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.lastErr
}

// Current returns the live attempt.
func (c *Controller) Current() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Attempt{}, false
	}
	return c.current.Attempt, true
}

// Remaining returns the number of candidates not yet tried.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions.Len()
}

// Loading returns the URL of the last allowed or blocked main-frame
// decision.
func (c *Controller) Loading() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneURL(c.loading)
}

func (c *Controller) liveLocked(id AttemptID) (*run, bool) {
	if c.closed || c.current == nil || c.current.ID != id {
		return nil, false
	}
	return c.current, true
}

func (c *Controller) seenLocked(u *url.URL) bool {
	return c.seen[u.String()]
}

func (c *Controller) timeoutLocked() time.Duration {
	if c.actions.Empty() {
		return DefaultTimeout
	}
	return FallbackTimeout
}

// resetLocked aborts the live attempt silently and starts a new navigation
// sequence.
func (c *Controller) resetLocked() {
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
	c.actions = nil
	c.upgrades.Reset()
	c.seen = make(map[string]bool)
	c.rewrites = 0
}

func (c *Controller) startLocked(a Attempt, notifyUpgrade bool, out *outbox) *run {
	c.nextID++
	a.ID = c.nextID
	ctx, cancel := context.WithCancel(c.root)
	r := &run{Attempt: a, ctx: ctx, cancel: cancel}
	c.current = r
	c.setStateLocked(AwaitingResponse, out)
	if notifyUpgrade {
		c.noteUpgradeLocked(a.URL, out)
	}
	out.issues = append(out.issues, issue{run: r, attempt: a})
	return r
}

// reissueLocked replaces r with an attempt for u. The candidate list is
// untouched and the timeout carries over.
func (c *Controller) reissueLocked(r *run, u *url.URL, upgraded, notifyUpgrade bool, out *outbox) *run {
	r.cancel()
	return c.startLocked(Attempt{URL: u, Upgraded: upgraded, Timeout: r.Timeout}, notifyUpgrade, out)
}

func (c *Controller) blockLocked(r *run, u *url.URL, err error, out *outbox) {
	c.setLoadingLocked(u, out)
	c.log.Warn("navigation blocked", zap.Uint64("attempt", uint64(r.ID)), zap.String("url", redact(u)), zap.Error(err))
	c.endLocked(FailedFinal, err, func(d Delegate) { d.DidFailLoad(err) }, out)
}

// endLocked finishes the navigation sequence in state s and returns to Idle.
func (c *Controller) endLocked(s State, err error, notify func(Delegate), out *outbox) {
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
	c.actions = nil
	c.outcome, c.lastErr = s, err
	c.cfg.Metrics.Attempt(s.String())
	c.setStateLocked(s, out)
	out.note(notify)
	c.setStateLocked(Idle, out)
}

func (c *Controller) setStateLocked(s State, out *outbox) {
	if c.state == s {
		return
	}
	c.state = s
	out.note(func(d Delegate) { d.StateChanged(s) })
}

func (c *Controller) setLoadingLocked(u *url.URL, out *outbox) {
	c.loading = model.CloneURL(u)
	loading := model.CloneURL(u)
	out.note(func(d Delegate) { d.IsLoading(loading) })
}

func (c *Controller) noteUpgradeLocked(u *url.URL, out *outbox) {
	c.cfg.Metrics.Upgrade()
	upgraded := model.CloneURL(u)
	out.note(func(d Delegate) { d.DidUpgradeLoad(upgraded) })
}

func (c *Controller) record(id AttemptID, u *url.URL, d Decision) {
	if c.cfg.Recorder == nil {
		return
	}
	c.cfg.Recorder.Record(Event{
		Attempt:  id,
		URL:      redact(u),
		Stage:    d.Stage,
		Verdict:  d.Verdict,
		Reason:   d.Reason,
		PolicyID: d.PolicyID,
	})
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
