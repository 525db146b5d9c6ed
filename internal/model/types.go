package model

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ActionKind tags the variant carried by an Action.
type ActionKind string

const (
	ActionLoad ActionKind = "load"
)

// Action is one candidate load produced by the resolver.
type Action struct {
	Kind     ActionKind `json:"kind"`
	URL      *url.URL   `json:"-"`
	Upgraded bool       `json:"upgraded"`
}

// Load returns a load action for u. Upgraded marks a secure variant of
// what the user typed.
func Load(u *url.URL, upgraded bool) Action {
	return Action{Kind: ActionLoad, URL: u, Upgraded: upgraded}
}

// String returns the target URL, or "" for an action without one.
func (a Action) String() string {
	if a.URL == nil {
		return ""
	}
	return a.URL.String()
}

// MarshalJSON renders the URL as a string.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     ActionKind `json:"kind"`
		URL      string     `json:"url"`
		Upgraded bool       `json:"upgraded"`
	}{a.Kind, a.String(), a.Upgraded})
}

// ActionList is an ordered list of candidate loads, best candidate first.
// It is consumed destructively by the navigation controller.
type ActionList []Action

// Len returns the number of remaining candidates.
func (l ActionList) Len() int {
	return len(l)
}

// Empty reports whether no candidates remain.
func (l ActionList) Empty() bool {
	return len(l) == 0
}

// PopFront removes and returns the first candidate.
func (l *ActionList) PopFront() (Action, bool) {
	if len(*l) == 0 {
		return Action{}, false
	}
	a := (*l)[0]
	*l = (*l)[1:]
	return a, true
}

// PopBack removes and returns the last candidate.
func (l *ActionList) PopBack() (Action, bool) {
	n := len(*l)
	if n == 0 {
		return Action{}, false
	}
	a := (*l)[n-1]
	*l = (*l)[:n-1]
	return a, true
}

// Clone returns an independent copy of the list.
func (l ActionList) Clone() ActionList {
	if l == nil {
		return nil
	}
	out := make(ActionList, len(l))
	copy(out, l)
	return out
}

// URLs returns the candidate URLs in order.
func (l ActionList) URLs() []string {
	out := make([]string, len(l))
	for i, a := range l {
		out[i] = a.String()
	}
	return out
}

// DangerReason names why a URL was flagged by the danger check.
type DangerReason string

const (
	DangerMalware  DangerReason = "malware"
	DangerPhishing DangerReason = "phishing"
	DangerUnwanted DangerReason = "unwanted_software"
)

// NavigationRequest is the plain-data form of one navigation decision point:
// either the first request of an attempt or a redirect hop inside it.
type NavigationRequest struct {
	URL       *url.URL
	Method    string
	MainFrame bool
	// MainURL is the URL of the page that owns the navigation, when known.
	MainURL *url.URL
}

// IsGet reports whether the request is a GET (or an unspecified method).
func (r NavigationRequest) IsGet() bool {
	return r.Method == "" || strings.EqualFold(r.Method, http.MethodGet)
}

// CloneURL returns a deep copy of u, or nil.
func CloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

// MustParse parses raw or panics. Intended for constants and tests.
func MustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}
