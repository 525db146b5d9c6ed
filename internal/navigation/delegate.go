package navigation

import "net/url"

// Delegate receives the controller's notifications. Calls happen outside
// the controller's lock, so a delegate may call back into the controller.
type Delegate interface {
	DidFinishLoad(p Page)
	DidFailLoad(err error)
	DidMakeProgress(progress float64)
	DidUpgradeLoad(u *url.URL)
	// IsLoading reports the currently loading URL after every allowed or
	// blocked decision.
	IsLoading(u *url.URL)
	StateChanged(s State)
}

// BaseDelegate ignores every notification. Embed it to implement only the
// methods you need.
type BaseDelegate struct{}

func (BaseDelegate) DidFinishLoad(Page) {}
func (BaseDelegate) DidFailLoad(error) {}
func (BaseDelegate) DidMakeProgress(float64) {}
func (BaseDelegate) DidUpgradeLoad(*url.URL) {}
func (BaseDelegate) IsLoading(*url.URL) {}
func (BaseDelegate) StateChanged(State) {}

// outbox queues notifications and issues while the lock is held and
// delivers them after it is released.
type outbox struct {
	notes  []func(Delegate)
	issues []issue
}

type issue struct {
	run     *run
	attempt Attempt
}

func (o *outbox) note(fn func(Delegate)) {
	o.notes = append(o.notes, fn)
}

func (o *outbox) deliver(d Delegate, iss Issuer) {
	if d != nil {
		for _, fn := range o.notes {
			fn(d)
		}
	}
	if iss != nil {
		for _, i := range o.issues {
			iss.Issue(i.run.ctx, i.attempt)
		}
	}
}
