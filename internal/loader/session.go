// Package loader drives a navigation controller over real HTTP. A Session
// issues the controller's attempts, reports their outcome back and fans the
// controller's notifications out to subscribed observers.
package loader

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ppiankov/navguard/internal/certpin"
	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/metrics"
	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/navigation"
)

const (
	DefaultUserAgent    = "navguard/1.0"
	DefaultMaxRedirects = 10
)

// Controller is the part of the navigation controller the session reports
// to.
type Controller interface {
	Decide(ctx context.Context, id navigation.AttemptID, req model.NavigationRequest) navigation.Decision
	DidFinish(id navigation.AttemptID, page navigation.Page)
	DidFail(id navigation.AttemptID, err error)
	DidFailProvisional(id navigation.AttemptID, err error)
	Progress(id navigation.AttemptID, progress float64)
	Close()
}

// Config holds session settings. The zero value loads over direct
// connections with the system roots and no rate limit.
type Config struct {
	// Evaluator supplies TLS roots and pin checks. Nil uses the system
	// roots and pins nothing.
	Evaluator *certpin.Evaluator
	// AllowDeprecatedTLS reports whether host may negotiate below TLS 1.2.
	AllowDeprecatedTLS func(host string) bool
	// TorProxy is the SOCKS5 address for tor: and tors: URLs. Empty fails
	// such loads.
	TorProxy string
	// RateLimit is requests per second; zero or less is unlimited.
	RateLimit    float64
	Retries      int
	UserAgent    string
	MaxRedirects int
	// Timeout overrides the controller's per-attempt timeout when set.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

type clientKey struct {
	tor        bool
	deprecated bool
}

// Session is one browsing session's network side.
type Session struct {
	id      string
	cfg     Config
	log     *zap.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	ctrl      Controller
	clients   map[clientKey]*resty.Client
	observers map[int]navigation.Delegate
	nextObs   int
	closed    bool

	wg sync.WaitGroup
}

// New creates a session. Bind must be called before the first attempt is
// issued.
func New(cfg Config) *Session {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		log:       logging.OrNop(cfg.Log).With(zap.String("session", id)),
		limiter:   limiter,
		clients:   make(map[clientKey]*resty.Client),
		observers: make(map[int]navigation.Delegate),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Bind attaches the controller the session reports to.
func (s *Session) Bind(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

func (s *Session) controller() Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

// Subscribe adds an observer and returns the function that removes it.
func (s *Session) Subscribe(d navigation.Delegate) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || d == nil {
		return func() {}
	}
	id := s.nextObs
	s.nextObs++
	s.observers[id] = d
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Observers returns the number of subscribed observers.
func (s *Session) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *Session) each(fn func(navigation.Delegate)) {
	s.mu.Lock()
	obs := make([]navigation.Delegate, 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// DidFinishLoad implements navigation.Delegate.
func (s *Session) DidFinishLoad(p navigation.Page) {
	s.each(func(d navigation.Delegate) { d.DidFinishLoad(p) })
}

// DidFailLoad implements navigation.Delegate.
func (s *Session) DidFailLoad(err error) {
	s.each(func(d navigation.Delegate) { d.DidFailLoad(err) })
}

// DidMakeProgress implements navigation.Delegate.
func (s *Session) DidMakeProgress(p float64) {
	s.each(func(d navigation.Delegate) { d.DidMakeProgress(p) })
}

// DidUpgradeLoad implements navigation.Delegate.
func (s *Session) DidUpgradeLoad(u *url.URL) {
	s.each(func(d navigation.Delegate) { d.DidUpgradeLoad(u) })
}

// IsLoading implements navigation.Delegate.
func (s *Session) IsLoading(u *url.URL) {
	s.each(func(d navigation.Delegate) { d.IsLoading(u) })
}

// StateChanged implements navigation.Delegate.
func (s *Session) StateChanged(st navigation.State) {
	s.each(func(d navigation.Delegate) { d.StateChanged(st) })
}

// Close tears the session down: the controller aborts the live attempt,
// in-flight requests are waited for and observers are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.closed = true
	s.observers = make(map[int]navigation.Delegate)
	for _, c := range s.clients {
		if t, ok := c.GetClient().Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	s.mu.Unlock()
}

// Outcome is the terminal result of one navigation.
type Outcome struct {
	Page navigation.Page
	Err  error
}

type awaiter struct {
	navigation.BaseDelegate
	done chan Outcome
}

func (a *awaiter) DidFinishLoad(p navigation.Page) {
	select {
	case a.done <- Outcome{Page: p}:
	default:
	}
}

func (a *awaiter) DidFailLoad(err error) {
	select {
	case a.done <- Outcome{Err: err}:
	default:
	}
}

// Await runs start, typically a controller load, and waits for the
// navigation it begins to finish or fail.
func (s *Session) Await(ctx context.Context, start func() error) (Outcome, error) {
	a := &awaiter{done: make(chan Outcome, 1)}
	unsubscribe := s.Subscribe(a)
	defer unsubscribe()

	if err := start(); err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-a.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
