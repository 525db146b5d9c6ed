package loader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/certpin"
	"github.com/ppiankov/navguard/internal/model"
	"github.com/ppiankov/navguard/internal/navigation"
	"github.com/ppiankov/navguard/internal/tor"
)

// errRedirectHandled aborts a redirect chain the controller did not allow.
// The controller has already reissued or reported the attempt.
var errRedirectHandled = errors.New("redirect not allowed")

var errNoTorProxy = errors.New("no tor proxy configured")

type attemptKey struct{}

type hop struct {
	id     navigation.AttemptID
	routed bool
}

// Issue implements navigation.Issuer. The request runs on its own
// goroutine.
func (s *Session) Issue(ctx context.Context, a navigation.Attempt) {
	ctrl := s.controller()
	if ctrl == nil {
		s.log.Error("attempt issued to an unbound session", zap.Uint64("attempt", uint64(a.ID)))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fetch(ctx, ctrl, a)
	}()
}

func (s *Session) fetch(ctx context.Context, ctrl Controller, a navigation.Attempt) {
	if a.Local() {
		ctrl.DidFinish(a.ID, navigation.Page{URL: a.URL, Status: http.StatusOK, Title: pageTitle(a.LocalHTML)})
		return
	}

	d := ctrl.Decide(ctx, a.ID, model.NavigationRequest{URL: a.URL, Method: http.MethodGet, MainFrame: true})
	if d.Verdict != navigation.Allow {
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			ctrl.DidFailProvisional(a.ID, fmt.Errorf("rate limit: %w", err))
		}
		return
	}

	timeout := a.Timeout
	if s.cfg.Timeout > 0 {
		timeout = s.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reqCtx = context.WithValue(reqCtx, attemptKey{}, hop{id: a.ID, routed: tor.IsRouted(a.URL)})

	target := tor.Normalize(a.URL)
	client, err := s.client(tor.IsRouted(a.URL), s.deprecatedTLS(target.Hostname()))
	if err != nil {
		ctrl.DidFailProvisional(a.ID, err)
		return
	}

	done := s.cfg.Metrics.NetworkStart()
	ctrl.Progress(a.ID, 0.1)
	resp, err := client.R().SetContext(reqCtx).Get(target.String())
	done()

	switch {
	case ctx.Err() != nil, errors.Is(err, errRedirectHandled):
		// Superseded, or the controller already acted on a redirect hop.
		return
	case errors.Is(err, model.ErrTrustRejected):
		ctrl.DidFail(a.ID, err)
		return
	case err != nil:
		ctrl.DidFailProvisional(a.ID, err)
		return
	}

	status := resp.StatusCode()
	if status >= http.StatusBadRequest {
		ctrl.DidFail(a.ID, fmt.Errorf("HTTP %d from %s", status, target.Redacted()))
		return
	}

	final := a.URL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL
		if tor.IsRouted(a.URL) {
			if routed, ok := tor.Route(final); ok {
				final = routed
			}
		}
	}
	ctrl.Progress(a.ID, 1)
	ctrl.DidFinish(a.ID, navigation.Page{
		URL:    final,
		Status: status,
		Title:  pageTitle(string(resp.Body())),
	})
}

func (s *Session) deprecatedTLS(host string) bool {
	return s.cfg.AllowDeprecatedTLS != nil && s.cfg.AllowDeprecatedTLS(host)
}

// client returns the shared client for one transport flavor.
func (s *Session) client(routed, deprecated bool) (*resty.Client, error) {
	key := clientKey{tor: routed, deprecated: deprecated}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[key]; ok {
		return c, nil
	}
	c, err := s.newClient(key)
	if err != nil {
		return nil, err
	}
	s.clients[key] = c
	return c, nil
}

func (s *Session) newClient(key clientKey) (*resty.Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	transport, ok := retryClient.HTTPClient.Transport.(*http.Transport)
	if !ok {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	minVersion := uint16(tls.VersionTLS12)
	if key.deprecated {
		minVersion = tls.VersionTLS10
	}
	if s.cfg.Evaluator != nil {
		transport.TLSClientConfig = s.cfg.Evaluator.TLSConfig(nil, key.deprecated)
	} else {
		transport.TLSClientConfig = &tls.Config{MinVersion: minVersion}
	}

	if key.tor {
		if s.cfg.TorProxy == "" {
			return nil, errNoTorProxy
		}
		dialer, err := tor.Dialer(s.cfg.TorProxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		transport.DialContext = tor.DialFunc(dialer)
	}

	c := resty.New().
		SetTransport(transport).
		SetHeader("User-Agent", s.cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("DNT", "1").
		SetLogger(s.log.Sugar()).
		SetRetryCount(s.cfg.Retries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryable).
		SetRedirectPolicy(resty.RedirectPolicyFunc(s.checkRedirect))
	return c, nil
}

// retryable defers to the retryablehttp policy, except for failures the
// controller must see at once.
func retryable(r *resty.Response, err error) bool {
	if errors.Is(err, errRedirectHandled) || errors.Is(err, model.ErrTrustRejected) {
		return false
	}
	ctx := context.Background()
	var raw *http.Response
	if r != nil {
		raw = r.RawResponse
		if r.Request != nil {
			ctx = r.Request.Context()
		}
	}
	if raw == nil && err == nil {
		return false
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, raw, err)
	return retry
}

// checkRedirect runs a navigation decision for every redirect hop.
func (s *Session) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= s.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", s.cfg.MaxRedirects)
	}
	h, ok := req.Context().Value(attemptKey{}).(hop)
	ctrl := s.controller()
	if !ok || ctrl == nil {
		return errRedirectHandled
	}

	u := req.URL
	if h.routed {
		if routed, ok := tor.Route(u); ok {
			u = routed
		}
	}
	d := ctrl.Decide(req.Context(), h.id, model.NavigationRequest{
		URL:       u,
		Method:    req.Method,
		MainFrame: true,
		MainURL:   via[0].URL,
	})
	if d.Verdict != navigation.Allow {
		return errRedirectHandled
	}
	return nil
}

// Pinned implements navigation.TrustGate.
func (s *Session) Pinned(host string) bool {
	return s.cfg.Evaluator != nil && s.cfg.Evaluator.Pins().Contains(host)
}

// Verify implements navigation.TrustGate: it completes a TLS handshake with
// the host of u and requires an Accept verdict. A host that cannot be
// reached fails with ErrProvisionalLoadFailed instead.
func (s *Session) Verify(ctx context.Context, u *url.URL) error {
	if s.cfg.Evaluator == nil {
		return fmt.Errorf("%w: no evaluator configured", model.ErrTrustRejected)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	v, _, err := s.cfg.Evaluator.Probe(ctx, net.JoinHostPort(host, port), host)
	if errors.Is(err, certpin.ErrUnreachable) {
		// Nothing was presented, so there is no verdict to honor.
		s.cfg.Metrics.PinVerdict("unreachable")
		return fmt.Errorf("%w: %w", model.ErrProvisionalLoadFailed, err)
	}
	s.cfg.Metrics.PinVerdict(v.String())
	if v == certpin.Accept {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%s: pin verdict %s", host, v)
	}
	return err
}
