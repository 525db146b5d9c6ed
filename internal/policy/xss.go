package policy

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips all markup; safe for concurrent Sanitize calls.
var strict = bluemonday.StrictPolicy()

// PotentialXSS reports whether a query value or the fragment of u carries
// markup or a script URL that could be reflected into a page.
func PotentialXSS(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, values := range u.Query() {
		for _, v := range values {
			if suspicious(v) {
				return true
			}
		}
	}
	return suspicious(u.Fragment)
}

func suspicious(v string) bool {
	if v == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "javascript:") {
		return true
	}
	if !strings.ContainsAny(v, "<>") {
		return false
	}
	return html.UnescapeString(strict.Sanitize(v)) != v
}
