package denylist

import "github.com/ppiankov/navguard/internal/model"

// DefaultPatterns contains the built-in block patterns: ad and tracking
// endpoints that are never worth loading, plus the public test hosts for
// dangerous-site warnings.
var DefaultPatterns = Patterns{
	URLs: []string{
		"doubleclick.net/**",
		"googlesyndication.com/**",
		"google-analytics.com/collect",
		"google-analytics.com/g/collect",
		"facebook.com/tr?",
		"/pagead/**",
		"adservice.google.*/**",
		"scorecardresearch.com/**",
		"hotjar.com/**",
	},
	Dangerous: map[string]model.DangerReason{
		"testsafebrowsing.appspot.com": model.DangerMalware,
		"malware.testing.google.test":  model.DangerMalware,
		"phishing.navguard.test":       model.DangerPhishing,
	},
}
