// Package engine assembles a navguard browsing session from configuration:
// policy, rule store, upgrader, trust evaluator, loader, controller and
// audit log.
package engine

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/audit"
	"github.com/ppiankov/navguard/internal/certpin"
	"github.com/ppiankov/navguard/internal/config"
	"github.com/ppiankov/navguard/internal/loader"
	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/metrics"
	"github.com/ppiankov/navguard/internal/navigation"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/reload"
	"github.com/ppiankov/navguard/internal/resolve"
	"github.com/ppiankov/navguard/internal/rules"
	"github.com/ppiankov/navguard/internal/transform"
	"github.com/ppiankov/navguard/internal/upgrade"
)

// Engine is one browsing session with everything it depends on.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry

	Policies  *policy.Manager
	Rules     *rules.Store
	Upgrader  *upgrade.Upgrader
	Pipeline  *transform.Pipeline
	Resolver  *resolve.Resolver
	Evaluator *certpin.Evaluator
	Metrics   *metrics.Metrics
	Session   *loader.Session
	Control   *navigation.Controller

	audit *audit.Log

	mu      sync.Mutex
	stop    context.CancelFunc
	watched chan struct{}
	closed  bool
}

// New builds an engine. A nil cfg uses config.Default; a nil log discards
// output.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log = logging.OrNop(log)
	e := &Engine{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	var err error
	if e.Policies, err = policy.Load(cfg.Policy.File, cfg.Policy.Denylist, log); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if e.Rules, err = openRules(cfg.Rules, log); err != nil {
		return nil, err
	}
	if e.Upgrader, err = newUpgrader(cfg.Upgrade); err != nil {
		e.closeStores()
		return nil, err
	}
	if e.Evaluator, err = newEvaluator(cfg.Trust); err != nil {
		e.closeStores()
		return nil, err
	}

	e.Pipeline = transform.New(e.Upgrader, e.Rules, e.Rules, log)
	e.Resolver = resolve.New(e.Policies)
	e.Metrics = metrics.New(e.registry)
	e.Session = loader.New(loader.Config{
		Evaluator:          e.Evaluator,
		AllowDeprecatedTLS: e.Policies.AllowDeprecatedTLS,
		TorProxy:           cfg.Loader.TorProxy,
		RateLimit:          cfg.Loader.RateLimit,
		Retries:            cfg.Loader.Retries,
		UserAgent:          cfg.Loader.UserAgent,
		MaxRedirects:       cfg.Loader.MaxRedirects,
		Timeout:            cfg.Loader.Timeout,
		Metrics:            e.Metrics,
		Log:                log,
	})

	var recorder navigation.Recorder
	if !cfg.Audit.Disabled {
		if e.audit, err = audit.Open(cfg.Audit.File); err != nil {
			e.closeStores()
			return nil, err
		}
		recorder = audit.NewRecorder(e.audit, e.Session.ID(), e.Policies.Hash, log)
	}

	e.Control, err = navigation.New(navigation.Config{
		Policies: e.Policies,
		Issuer:   e.Session,
		Resolver: e.Resolver,
		Pipeline: e.Pipeline,
		Trust:    e.Session,
		Delegate: e.Session,
		Recorder: recorder,
		Metrics:  e.Metrics,
		Log:      log,
	})
	if err != nil {
		e.closeStores()
		return nil, err
	}
	e.Session.Bind(e.Control)
	e.Session.Subscribe(&learner{upgrader: e.Upgrader})

	log.Debug("engine ready",
		zap.String("session", e.Session.ID()),
		zap.String("policy_hash", e.Policies.Hash()),
		zap.Int("pinned_hosts", len(e.Evaluator.Pins().Hosts())))
	return e, nil
}

// openRules opens the rule store. A seed file replaces the store contents;
// without one, an empty store gets the built-in rules and a persistent
// store keeps what it has.
func openRules(cfg config.RulesConfig, log *zap.Logger) (*rules.Store, error) {
	store, err := rules.Open(cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	if cfg.Seed != "" {
		if err := store.ReloadFrom(cfg.Seed); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	st, err := store.Stats()
	if err != nil {
		store.Close()
		return nil, err
	}
	if st == (rules.Stats{}) {
		if err := store.Import(rules.DefaultSeed); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func newUpgrader(cfg config.UpgradeConfig) (*upgrade.Upgrader, error) {
	var rulesets []*upgrade.Ruleset
	if cfg.Rulesets != "" {
		rs, err := upgrade.LoadRulesetDir(cfg.Rulesets)
		if err != nil {
			return nil, err
		}
		rulesets = rs
	}
	if cfg.Preload == "" {
		return upgrade.New(nil, rulesets)
	}
	entries, err := upgrade.LoadPreloadFile(cfg.Preload)
	if err != nil {
		return nil, err
	}
	return upgrade.New(entries, rulesets)
}

func newEvaluator(cfg config.TrustConfig) (*certpin.Evaluator, error) {
	pins, err := certpin.Default()
	if err != nil {
		return nil, err
	}
	var extra []*x509.Certificate
	if cfg.PinDir != "" {
		if extra, err = certpin.LoadPinDir(cfg.PinDir); err != nil {
			return nil, err
		}
	}
	if len(cfg.Hosts) > 0 || len(extra) > 0 {
		pins = pins.With(cfg.Hosts, extra)
	}
	mode := certpin.DeferUnpinned
	if cfg.Strict {
		mode = certpin.RejectUnpinned
	}
	return certpin.NewEvaluator(pins, certpin.WithMode(mode))
}

// Registry returns the metrics registry of this engine.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Navigate resolves input, loads the candidates and waits for the
// navigation to finish or fail.
func (e *Engine) Navigate(ctx context.Context, input string) (loader.Outcome, error) {
	actions := e.Resolver.Resolve(input)
	if actions.Empty() {
		return loader.Outcome{}, fmt.Errorf("%q does not resolve to a URL", input)
	}
	return e.Session.Await(ctx, func() error { return e.Control.Load(actions) })
}

// NavigateURL loads u with no fallback and waits for the outcome.
func (e *Engine) NavigateURL(ctx context.Context, u *url.URL) (loader.Outcome, error) {
	return e.Session.Await(ctx, func() error { return e.Control.LoadURL(u) })
}

// Watch hot-reloads the policy, denylist and rules seed until ctx is done
// or the engine is closed. It is a no-op when watching is disabled.
func (e *Engine) Watch(ctx context.Context) error {
	if !e.cfg.Watch {
		return nil
	}
	e.mu.Lock()
	if e.closed || e.stop != nil {
		e.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.watched = make(chan struct{})
	done := e.watched
	e.mu.Unlock()

	targets := []reload.Target{
		{Name: "policy", Path: e.Policies.PolicyPath(), Reload: e.Policies.ReloadPolicy},
		{Name: "denylist", Path: e.Policies.DenylistPath(), Reload: e.Policies.ReloadDenylist},
	}
	if seed := e.cfg.Rules.Seed; seed != "" {
		targets = append(targets, reload.Target{
			Name:   "rules",
			Path:   seed,
			Reload: func() error { return e.Rules.ReloadFrom(seed) },
		})
	}

	w, err := reload.New(targets, e.log)
	if err != nil {
		cancel()
		close(done)
		return err
	}
	e.log.Info("watching for changes", zap.Int("files", w.Watched()))
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("reload watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// Close tears the session down and releases the stores. Safe to call more
// than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop, watched := e.stop, e.watched
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-watched
	}
	e.Session.Close()
	return e.closeStores()
}

func (e *Engine) closeStores() error {
	var errs []error
	if e.audit != nil {
		errs = append(errs, e.audit.Close())
	}
	if e.Rules != nil {
		errs = append(errs, e.Rules.Close())
	}
	return errors.Join(errs...)
}

// learner teaches the upgrader hosts that served a secure load.
type learner struct {
	navigation.BaseDelegate
	upgrader *upgrade.Upgrader
}

func (l *learner) DidFinishLoad(p navigation.Page) {
	if p.URL != nil && p.URL.Scheme == "https" {
		l.upgrader.Learn(p.URL.Hostname())
	}
}
