package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/navguard/internal/denylist"
	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/rules"
	"github.com/ppiankov/navguard/internal/transform"
	"github.com/ppiankov/navguard/internal/upgrade"
)

type issued struct {
	ctx     context.Context
	attempt Attempt
}

type fakeIssuer struct {
	mu       sync.Mutex
	attempts []issued
}

func (f *fakeIssuer) Issue(ctx context.Context, a Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, issued{ctx: ctx, attempt: a})
}

func (f *fakeIssuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeIssuer) last(t *testing.T) issued {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.attempts, "nothing issued")
	return f.attempts[len(f.attempts)-1]
}

type recordingDelegate struct {
	BaseDelegate
	mu       sync.Mutex
	finished []Page
	failed   []error
	upgraded []string
	loading  []string
	states   []State
}

func (d *recordingDelegate) DidFinishLoad(p Page) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = append(d.finished, p)
}

func (d *recordingDelegate) DidFailLoad(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, err)
}

func (d *recordingDelegate) DidUpgradeLoad(u *url.URL) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upgraded = append(d.upgraded, u.String())
}

func (d *recordingDelegate) IsLoading(u *url.URL) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = append(d.loading, u.String())
}

func (d *recordingDelegate) StateChanged(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, s)
}

type hostUpgrader map[string]bool

func (h hostUpgrader) Upgrade(u *url.URL) (*url.URL, bool) {
	if u.Scheme != "http" || !h[u.Hostname()] {
		return nil, false
	}
	out := model.CloneURL(u)
	out.Scheme = "https"
	return out, true
}

type harness struct {
	ctrl     *Controller
	issuer   *fakeIssuer
	delegate *recordingDelegate
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store, err := rules.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Import(rules.DefaultSeed))

	h := &harness{issuer: &fakeIssuer{}, delegate: &recordingDelegate{}, events: &eventLog{}}
	cfg := Config{
		Policies: policy.NewManager(policy.DefaultConfig(), denylist.NewDefault(), nil),
		Issuer:   h.issuer,
		Pipeline: transform.New(hostUpgrader{"a.test": true}, store, store, nil),
		Delegate: h.delegate,
		Recorder: h.events,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.ctrl, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(h.ctrl.Close)
	return h
}

func get(raw string) model.NavigationRequest {
	return model.NavigationRequest{URL: model.MustParse(raw), Method: "GET", MainFrame: true}
}

func list(raws ...string) model.ActionList {
	var out model.ActionList
	for _, raw := range raws {
		u := model.MustParse(raw)
		out = append(out, model.Load(u, u.Scheme == "https"))
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Issuer: &fakeIssuer{}})
	assert.Error(t, err)
	_, err = New(Config{Policies: policy.NewManager(nil, nil, nil)})
	assert.Error(t, err)
}

func TestLoadEmptyListIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(nil))
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, 0, h.issuer.count())
}

func TestLoadRejectsActionWithoutURL(t *testing.T) {
	h := newHarness(t, nil)
	err := h.ctrl.Load(model.ActionList{{Kind: model.ActionLoad}})
	assert.Error(t, err)
	assert.Equal(t, 0, h.issuer.count())
}

func TestProvisionalFailureRetriesOnceThenFails(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://a.test/", "http://a.test/")))

	first := h.issuer.last(t).attempt
	assert.Equal(t, "https://a.test/", first.URL.String())
	assert.True(t, first.Upgraded)
	assert.Equal(t, FallbackTimeout, first.Timeout)
	assert.Equal(t, []string{"https://a.test/"}, h.delegate.upgraded)
	assert.Equal(t, AwaitingResponse, h.ctrl.State())

	h.ctrl.DidFailProvisional(first.ID, errors.New("connection refused"))
	require.Equal(t, 2, h.issuer.count())
	second := h.issuer.last(t).attempt
	assert.Equal(t, "http://a.test/", second.URL.String())
	assert.Equal(t, DefaultTimeout, second.Timeout)
	assert.Empty(t, h.delegate.failed, "provisional failures stay inside the controller")

	h.ctrl.DidFailProvisional(second.ID, errors.New("connection refused"))
	assert.Equal(t, 2, h.issuer.count(), "no retry after the list is exhausted")
	assert.Equal(t, Idle, h.ctrl.State())

	state, err := h.ctrl.Outcome()
	assert.Equal(t, FailedFinal, state)
	assert.True(t, errors.Is(err, model.ErrFinalLoadFailed))
	assert.True(t, errors.Is(err, model.ErrProvisionalLoadFailed))
	require.Len(t, h.delegate.failed, 1)

	assert.Equal(t, []State{AwaitingResponse, FailedProvisional, AwaitingResponse, FailedProvisional, FailedFinal, Idle}, h.delegate.states)
}

func TestRetryPopsFromTheBack(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://one.test/", "http://two.test/", "http://three.test/")))
	assert.Equal(t, "http://one.test/", h.issuer.last(t).attempt.URL.String())

	h.ctrl.DidFailProvisional(h.issuer.last(t).attempt.ID, nil)
	assert.Equal(t, "http://three.test/", h.issuer.last(t).attempt.URL.String())
	assert.Equal(t, 1, h.ctrl.Remaining())
}

func TestSecondLoadAbortsFirst(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://first.test/")))
	first := h.issuer.last(t)

	require.NoError(t, h.ctrl.Load(list("http://second.test/")))
	second := h.issuer.last(t)

	select {
	case <-first.ctx.Done():
	default:
		t.Fatal("first attempt was not cancelled")
	}
	assert.NoError(t, second.ctx.Err())

	h.ctrl.DidFinish(first.attempt.ID, Page{Status: 200})
	h.ctrl.DidFailProvisional(first.attempt.ID, errors.New("late"))
	h.ctrl.DidFail(first.attempt.ID, errors.New("late"))
	assert.Empty(t, h.delegate.finished)
	assert.Empty(t, h.delegate.failed)
	assert.Equal(t, 2, h.issuer.count())

	h.ctrl.DidFinish(second.attempt.ID, Page{Status: 200, Title: "Second"})
	require.Len(t, h.delegate.finished, 1)
	assert.Equal(t, "http://second.test/", h.delegate.finished[0].URL.String())
	assert.Equal(t, "Second", h.delegate.finished[0].Title)

	state, err := h.ctrl.Outcome()
	assert.Equal(t, Succeeded, state)
	assert.NoError(t, err)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestDecideStaleAttemptCancels(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://first.test/")))
	first := h.issuer.last(t).attempt
	require.NoError(t, h.ctrl.Load(list("http://second.test/")))

	d := h.ctrl.Decide(context.Background(), first.ID, get("http://first.test/"))
	assert.Equal(t, Cancel, d.Verdict)
	assert.Empty(t, h.events.events, "stale decisions are not recorded")
}

func TestDecideStripReissues(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://example.com/?utm_source=x&id=1")))
	first := h.issuer.last(t).attempt

	d := h.ctrl.Decide(context.Background(), first.ID, get("https://example.com/?utm_source=x&id=1"))
	assert.Equal(t, Reissue, d.Verdict)
	assert.Equal(t, "strip", d.Stage)
	assert.Equal(t, "utm_source", d.Reason)
	require.NotNil(t, d.URL)
	assert.Equal(t, "https://example.com/?id=1", d.URL.String())

	next := h.issuer.last(t).attempt
	assert.Equal(t, d.Attempt, next.ID)
	assert.Equal(t, "https://example.com/?id=1", next.URL.String())
	assert.Equal(t, first.Timeout, next.Timeout)

	d = h.ctrl.Decide(context.Background(), next.ID, get("https://example.com/?id=1"))
	assert.Equal(t, Allow, d.Verdict)
	assert.Equal(t, []string{"https://example.com/?id=1"}, h.delegate.loading)
}

func TestDecideSubframeRewriteDoesNotReissue(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://example.com/")))
	id := h.issuer.last(t).attempt.ID

	d := h.ctrl.Decide(context.Background(), id, model.NavigationRequest{
		URL:    model.MustParse("https://www.google.com/url?q=https%3A%2F%2Fexample.org%2F"),
		Method: "GET",
	})
	assert.Equal(t, Reissue, d.Verdict)
	assert.Equal(t, "https://example.org/", d.URL.String())
	assert.Zero(t, d.Attempt)
	assert.Equal(t, 1, h.issuer.count())
	cur, ok := h.ctrl.Current()
	require.True(t, ok)
	assert.Equal(t, id, cur.ID)
}

func TestUpgradeIsNotReapplied(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://a.test/", "http://a.test/")))
	first := h.issuer.last(t).attempt

	d := h.ctrl.Decide(context.Background(), first.ID, get("http://a.test/"))
	require.Equal(t, Reissue, d.Verdict)
	assert.Equal(t, "upgrade", d.Stage)
	assert.Equal(t, []string{"https://a.test/"}, h.delegate.upgraded)

	upgraded := h.issuer.last(t).attempt
	assert.True(t, upgraded.Upgraded)
	d = h.ctrl.Decide(context.Background(), upgraded.ID, get("https://a.test/"))
	assert.Equal(t, Allow, d.Verdict)

	// A redirect back to the plain URL in the same sequence is not upgraded
	// again.
	d = h.ctrl.Decide(context.Background(), upgraded.ID, get("http://a.test/"))
	assert.Equal(t, Allow, d.Verdict)
	assert.Len(t, h.delegate.upgraded, 1)
}

func TestFailedUpgradeExcludesHostOnRetry(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://a.test/", "http://a.test/")))
	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("http://a.test/"))
	require.Equal(t, Reissue, d.Verdict)

	h.ctrl.DidFailProvisional(d.Attempt, errors.New("tls handshake timeout"))
	retry := h.issuer.last(t).attempt
	assert.Equal(t, "http://a.test/", retry.URL.String())

	d = h.ctrl.Decide(context.Background(), retry.ID, get("http://a.test/"))
	assert.Equal(t, Allow, d.Verdict, "the failed upgrade is not retried")
}

func TestDecideBlocksDenylisted(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://ad.doubleclick.net/x", "http://ad.doubleclick.net/x")))
	id := h.issuer.last(t).attempt.ID

	d := h.ctrl.Decide(context.Background(), id, get("https://ad.doubleclick.net/x"))
	assert.Equal(t, Block, d.Verdict)
	assert.Equal(t, "policy", d.Stage)
	assert.Equal(t, "denylist.block", d.PolicyID)

	require.Len(t, h.delegate.failed, 1)
	assert.True(t, errors.Is(h.delegate.failed[0], model.ErrPolicyBlocked))
	assert.Equal(t, []string{"https://ad.doubleclick.net/x"}, h.delegate.loading)
	assert.Equal(t, 0, h.ctrl.Remaining(), "a block discards the fallbacks")
	assert.Equal(t, 1, h.issuer.count())
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestDecideBlocksXSS(t *testing.T) {
	h := newHarness(t, nil)
	raw := "https://example.com/search?q=%3Cscript%3Ealert(1)%3C%2Fscript%3E"
	require.NoError(t, h.ctrl.Load(list(raw)))

	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get(raw))
	assert.Equal(t, Block, d.Verdict)
	assert.Equal(t, "xss.block", d.PolicyID)
}

func TestDecideBlocksDangerousSites(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://testsafebrowsing.appspot.com/s/malware.html")))

	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("https://testsafebrowsing.appspot.com/s/malware.html"))
	assert.Equal(t, Block, d.Verdict)
	assert.Equal(t, "danger", d.Stage)
	assert.Contains(t, d.Reason, "malware")
	require.Len(t, h.delegate.failed, 1)
	assert.True(t, errors.Is(h.delegate.failed[0], model.ErrPolicyBlocked))
}

type scriptedPolicies struct {
	*policy.Manager
	dangerErr error
	calls     []string
}

func (p *scriptedPolicies) DangerReasons(ctx context.Context, u *url.URL) ([]model.DangerReason, error) {
	p.calls = append(p.calls, "danger")
	if p.dangerErr != nil {
		return nil, p.dangerErr
	}
	return p.Manager.DangerReasons(ctx, u)
}

type scriptedGate struct {
	pinned map[string]bool
	err    error
	log    *[]string
}

func (g scriptedGate) Pinned(host string) bool { return g.pinned[host] }

func (g scriptedGate) Verify(context.Context, *url.URL) error {
	*g.log = append(*g.log, "trust")
	return g.err
}

func TestDangerCheckErrorFailsClosed(t *testing.T) {
	pols := &scriptedPolicies{
		Manager:   policy.NewManager(policy.DefaultConfig(), denylist.NewDefault(), nil),
		dangerErr: errors.New("lookup service unavailable"),
	}
	h := newHarness(t, func(c *Config) { c.Policies = pols })
	require.NoError(t, h.ctrl.Load(list("https://example.com/")))

	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("https://example.com/"))
	assert.Equal(t, Block, d.Verdict)
	assert.Equal(t, "danger.error", d.PolicyID)
}

func TestTrustRunsBeforeDanger(t *testing.T) {
	pols := &scriptedPolicies{Manager: policy.NewManager(policy.DefaultConfig(), denylist.NewDefault(), nil)}
	gate := scriptedGate{pinned: map[string]bool{"api.navguard.dev": true}, log: &pols.calls}

	tests := []struct {
		name    string
		url     string
		gateErr error
		verdict Verdict
		calls   []string
	}{
		{"pinned and trusted", "https://api.navguard.dev/v1", nil, Allow, []string{"trust", "danger"}},
		{"pinned and rejected", "https://api.navguard.dev/v1", errors.New("no pinned certificate"), Block, []string{"trust"}},
		{"unpinned host skips trust", "https://example.com/", errors.New("unused"), Allow, []string{"danger"}},
		{"plain http skips trust", "http://api.navguard.dev/", errors.New("unused"), Allow, []string{"danger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pols.calls = nil
			g := gate
			g.err = tt.gateErr
			h := newHarness(t, func(c *Config) {
				c.Policies = pols
				c.Trust = g
				c.Pipeline = nil
			})
			require.NoError(t, h.ctrl.Load(list(tt.url)))

			d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get(tt.url))
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.calls, pols.calls)
			if tt.verdict == Block {
				assert.Equal(t, "trust", d.Stage)
				require.Len(t, h.delegate.failed, 1)
				assert.True(t, errors.Is(h.delegate.failed[0], model.ErrTrustRejected))
			}
		})
	}
}

func TestUnreachablePinnedHostRetriesFallback(t *testing.T) {
	pols := &scriptedPolicies{Manager: policy.NewManager(policy.DefaultConfig(), denylist.NewDefault(), nil)}
	unreachable := fmt.Errorf("%w: dialing api.navguard.dev:443: connection refused", model.ErrProvisionalLoadFailed)
	gate := scriptedGate{pinned: map[string]bool{"api.navguard.dev": true}, err: unreachable, log: &pols.calls}
	h := newHarness(t, func(c *Config) {
		c.Policies = pols
		c.Trust = gate
		c.Pipeline = nil
	})
	require.NoError(t, h.ctrl.Load(list("https://api.navguard.dev/v1", "http://one.test/", "http://two.test/")))
	first := h.issuer.last(t).attempt

	d := h.ctrl.Decide(context.Background(), first.ID, get("https://api.navguard.dev/v1"))
	assert.Equal(t, Cancel, d.Verdict)
	assert.Equal(t, "trust", d.Stage)
	assert.Equal(t, "trust.unreachable", d.PolicyID)
	assert.Equal(t, []string{"trust"}, pols.calls, "no danger check for an attempt that never connected")

	next := h.issuer.last(t).attempt
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, "http://two.test/", next.URL.String())
	assert.Equal(t, 1, h.ctrl.Remaining())
	assert.Empty(t, h.delegate.failed, "a provisional failure with candidates left is not reported")

	d = h.ctrl.Decide(context.Background(), next.ID, get("http://two.test/"))
	assert.Equal(t, Allow, d.Verdict)
}

func TestUnreachablePinnedHostWithoutFallbackFails(t *testing.T) {
	pols := &scriptedPolicies{Manager: policy.NewManager(policy.DefaultConfig(), denylist.NewDefault(), nil)}
	unreachable := fmt.Errorf("%w: handshake timeout", model.ErrProvisionalLoadFailed)
	gate := scriptedGate{pinned: map[string]bool{"api.navguard.dev": true}, err: unreachable, log: &pols.calls}
	h := newHarness(t, func(c *Config) {
		c.Policies = pols
		c.Trust = gate
		c.Pipeline = nil
	})
	require.NoError(t, h.ctrl.Load(list("https://api.navguard.dev/v1")))

	h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("https://api.navguard.dev/v1"))
	require.Len(t, h.delegate.failed, 1)
	err := h.delegate.failed[0]
	assert.True(t, errors.Is(err, model.ErrFinalLoadFailed))
	assert.True(t, errors.Is(err, model.ErrProvisionalLoadFailed))
	assert.False(t, errors.Is(err, model.ErrTrustRejected))
	state, _ := h.ctrl.Outcome()
	assert.Equal(t, FailedFinal, state)
}

func TestRedirectHopUsesOwningPagePolicy(t *testing.T) {
	off := false
	cfg := policy.DefaultConfig()
	cfg.Domains = append(cfg.Domains, policy.DomainRule{
		Pattern: "trusted.test",
		Flags:   policy.FlagOverrides{BlockLoad: &off},
	})
	h := newHarness(t, func(c *Config) {
		c.Policies = policy.NewManager(cfg, denylist.NewDefault(), nil)
		c.Pipeline = nil
	})
	require.NoError(t, h.ctrl.Load(list("https://trusted.test/")))
	id := h.issuer.last(t).attempt.ID

	hop := get("https://ad.doubleclick.net/ddm/x")
	hop.MainURL = model.MustParse("https://trusted.test/")
	d := h.ctrl.Decide(context.Background(), id, hop)
	assert.Equal(t, Allow, d.Verdict, "block_load is off for the page that owns the redirect")

	d = h.ctrl.Decide(context.Background(), id, get("https://ad.doubleclick.net/ddm/x"))
	assert.Equal(t, Block, d.Verdict)
	assert.Equal(t, "denylist.block", d.PolicyID)
}

func TestOnionRoutedThroughTor(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("http://expyuzz4wqqyqhjn.onion/")))

	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("http://expyuzz4wqqyqhjn.onion/"))
	require.Equal(t, Reissue, d.Verdict)
	assert.Equal(t, "tor", d.Stage)
	assert.Equal(t, "tor://expyuzz4wqqyqhjn.onion/", d.URL.String())

	routed := h.issuer.last(t).attempt
	d = h.ctrl.Decide(context.Background(), routed.ID, get("tor://expyuzz4wqqyqhjn.onion/"))
	assert.Equal(t, Allow, d.Verdict)
}

func TestSubframeBlockKeepsNavigation(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://example.com/")))
	id := h.issuer.last(t).attempt.ID

	d := h.ctrl.Decide(context.Background(), id, model.NavigationRequest{
		URL:    model.MustParse("https://ad.doubleclick.net/pixel"),
		Method: "GET",
	})
	assert.Equal(t, Block, d.Verdict)
	assert.Empty(t, h.delegate.failed)
	assert.Equal(t, AwaitingResponse, h.ctrl.State())
}

type churningPipeline struct{ n int }

func (p *churningPipeline) Run(req transform.Request, _ *upgrade.State) transform.Result {
	p.n++
	out := model.CloneURL(req.URL)
	out.RawQuery = fmt.Sprintf("n=%d", p.n)
	return transform.Result{Changed: true, URL: out, Stage: transform.StageRedirect}
}

func TestRewriteLoopIsBounded(t *testing.T) {
	pipe := &churningPipeline{}
	h := newHarness(t, func(c *Config) {
		c.Pipeline = pipe
		c.MaxRewrites = 3
	})
	require.NoError(t, h.ctrl.Load(list("https://example.com/")))

	var d Decision
	for i := 0; i < 5; i++ {
		a := h.issuer.last(t).attempt
		d = h.ctrl.Decide(context.Background(), a.ID, get(a.URL.String()))
		if d.Verdict != Reissue {
			break
		}
	}
	assert.Equal(t, Allow, d.Verdict)
	assert.Equal(t, 3, pipe.n)
}

func TestDidFailAfterCommitDoesNotRetry(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://b.test/", "http://b.test/")))
	h.ctrl.DidFail(h.issuer.last(t).attempt.ID, errors.New("HTTP 500"))

	assert.Equal(t, 1, h.issuer.count())
	state, err := h.ctrl.Outcome()
	assert.Equal(t, FailedFinal, state)
	assert.True(t, errors.Is(err, model.ErrFinalLoadFailed))
	assert.False(t, errors.Is(err, model.ErrProvisionalLoadFailed))
}

func TestCloseReportsTornDown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://example.com/")))
	in := h.issuer.last(t)

	h.ctrl.Close()
	require.Len(t, h.delegate.failed, 1)
	assert.True(t, errors.Is(h.delegate.failed[0], model.ErrSessionTornDown))
	assert.Error(t, in.ctx.Err())

	assert.ErrorIs(t, h.ctrl.Load(list("https://example.com/")), model.ErrSessionTornDown)
	assert.ErrorIs(t, h.ctrl.LoadLocal("<p>hi</p>", nil), model.ErrSessionTornDown)
	assert.Equal(t, Cancel, h.ctrl.Decide(context.Background(), in.attempt.ID, get("https://example.com/")).Verdict)

	h.ctrl.Close()
	assert.Len(t, h.delegate.failed, 1, "close is idempotent")
}

func TestLoadLocal(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.LoadLocal("<title>Offline</title>", nil))
	a := h.issuer.last(t).attempt
	assert.True(t, a.Local())
	assert.Equal(t, "about:blank", a.URL.String())

	d := h.ctrl.Decide(context.Background(), a.ID, get("about:blank"))
	assert.Equal(t, Allow, d.Verdict)
	assert.Equal(t, "local", d.Stage)

	h.ctrl.DidFinish(a.ID, Page{Title: "Offline"})
	require.Len(t, h.delegate.finished, 1)
	assert.Equal(t, "about:blank", h.delegate.finished[0].URL.String())

	assert.Error(t, h.ctrl.LoadLocal("", nil))
}

func TestLoadInputUsesResolver(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Resolver = resolverFunc(func(string) model.ActionList { return list("https://example.com/", "http://example.com/") })
	})
	require.NoError(t, h.ctrl.LoadInput("example.com"))
	assert.Equal(t, "https://example.com/", h.issuer.last(t).attempt.URL.String())
	assert.Equal(t, 1, h.ctrl.Remaining())

	h2 := newHarness(t, nil)
	assert.Error(t, h2.ctrl.LoadInput("example.com"))
	assert.Error(t, h2.ctrl.LoadURL(nil))
}

type resolverFunc func(string) model.ActionList

func (f resolverFunc) Resolve(input string) model.ActionList { return f(input) }

func TestRecorderSeesDecisions(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Load(list("https://example.com/?utm_source=x")))
	d := h.ctrl.Decide(context.Background(), h.issuer.last(t).attempt.ID, get("https://example.com/?utm_source=x"))
	h.ctrl.Decide(context.Background(), d.Attempt, get("https://example.com/"))

	require.Len(t, h.events.events, 2)
	assert.Equal(t, Reissue, h.events.events[0].Verdict)
	assert.Equal(t, "strip", h.events.events[0].Stage)
	assert.Equal(t, Allow, h.events.events[1].Verdict)
	assert.Equal(t, "https://example.com/", h.events.events[1].URL)
}

func TestProgressDroppedForStaleAttempts(t *testing.T) {
	var got []float64
	d := &progressDelegate{got: &got}
	h := newHarness(t, func(c *Config) { c.Delegate = d })
	require.NoError(t, h.ctrl.Load(list("https://one.test/")))
	first := h.issuer.last(t).attempt.ID
	h.ctrl.Progress(first, 0.5)
	require.NoError(t, h.ctrl.Load(list("https://two.test/")))
	h.ctrl.Progress(first, 0.9)
	assert.Equal(t, []float64{0.5}, got)
}

type progressDelegate struct {
	BaseDelegate
	got *[]float64
}

func (d *progressDelegate) DidMakeProgress(p float64) { *d.got = append(*d.got, p) }

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_response", AwaitingResponse.String())
	assert.Equal(t, "failed_final", FailedFinal.String())
	assert.Equal(t, "reissue", Reissue.String())
}
