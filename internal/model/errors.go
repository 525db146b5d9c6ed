package model

import "errors"

// Failure classes surfaced by the navigation pipeline. Callers classify
// with errors.Is; the concrete error usually wraps one of these with detail.
var (
	// ErrTrustRejected: chain invalid, or valid but no pinned certificate.
	ErrTrustRejected = errors.New("trust rejected")
	// ErrProvisionalLoadFailed: transport failure before any content was
	// committed. Retried against the next candidate.
	ErrProvisionalLoadFailed = errors.New("provisional load failed")
	// ErrFinalLoadFailed: all candidates exhausted or non-recoverable failure.
	ErrFinalLoadFailed = errors.New("load failed")
	// ErrPolicyBlocked: block list, XSS heuristic or danger check match.
	ErrPolicyBlocked = errors.New("blocked by policy")
	// ErrSessionTornDown: the owning session went away mid-flight.
	ErrSessionTornDown = errors.New("session torn down")
)
