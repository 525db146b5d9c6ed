package policydiff

import (
	"fmt"
	"strings"

	"github.com/ppiankov/navguard/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a domain rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed", "moved"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// flag is one navigation switch and whether turning it on tightens policy.
type flag struct {
	name         string
	onIsStricter bool
	get          func(policy.Flags) bool
	override     func(policy.FlagOverrides) *bool
}

var flags = []flag{
	{"block_load", true,
		func(f policy.Flags) bool { return f.BlockLoad },
		func(o policy.FlagOverrides) *bool { return o.BlockLoad }},
	{"prevent_xss", true,
		func(f policy.Flags) bool { return f.PreventXSS },
		func(o policy.FlagOverrides) *bool { return o.PreventXSS }},
	{"strip_tracking_params", true,
		func(f policy.Flags) bool { return f.StripTrackingParams },
		func(o policy.FlagOverrides) *bool { return o.StripTrackingParams }},
	{"skip_redirects", true,
		func(f policy.Flags) bool { return f.SkipRedirects },
		func(o policy.FlagOverrides) *bool { return o.SkipRedirects }},
	{"use_tor", true,
		func(f policy.Flags) bool { return f.UseTor },
		func(o policy.FlagOverrides) *bool { return o.UseTor }},
	{"allow_deprecated_tls", false,
		func(f policy.Flags) bool { return f.AllowDeprecatedTLS },
		func(o policy.FlagOverrides) *bool { return o.AllowDeprecatedTLS }},
	{"try_https", true,
		func(f policy.Flags) bool { return f.TryHTTPS },
		func(o policy.FlagOverrides) *bool { return o.TryHTTPS }},
	{"https_upgrade", true,
		func(f policy.Flags) bool { return f.HTTPSUpgrade },
		func(o policy.FlagOverrides) *bool { return o.HTTPSUpgrade }},
}

// Diff compares two PolicyConfigs and returns the differences.
func Diff(old, new *policy.PolicyConfig) *DiffResult {
	r := &DiffResult{}

	for _, f := range flags {
		o, n := f.get(old.Defaults), f.get(new.Defaults)
		if o != n {
			r.Changes = append(r.Changes, Change{
				Field:   "defaults." + f.name,
				Old:     fmt.Sprintf("%t", o),
				New:     fmt.Sprintf("%t", n),
				Comment: boolComment(n, f.onIsStricter),
			})
		}
	}

	if old.SearchEngine != new.SearchEngine {
		r.Changes = append(r.Changes, Change{
			Field: "search_engine",
			Old:   old.SearchEngine,
			New:   new.SearchEngine,
		})
	}

	diffRules(r, old.Domains, new.Domains)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

func boolComment(now bool, onIsStricter bool) string {
	if now == onIsStricter {
		return "stricter"
	}
	return "looser"
}

// overrides renders the flags a rule sets, in a fixed order.
func overrides(o policy.FlagOverrides) string {
	var parts []string
	for _, f := range flags {
		if v := f.override(o); v != nil {
			parts = append(parts, fmt.Sprintf("%s=%t", f.name, *v))
		}
	}
	if len(parts) == 0 {
		return "(no overrides)"
	}
	return strings.Join(parts, " ")
}

func ruleLabel(r policy.DomainRule) string {
	return fmt.Sprintf("%s: %s", r.Pattern, overrides(r.Flags))
}

// firstRules keeps the first rule per pattern; later ones never match.
func firstRules(rules []policy.DomainRule) ([]policy.DomainRule, map[string]policy.DomainRule) {
	byPattern := make(map[string]policy.DomainRule)
	var ordered []policy.DomainRule
	for _, rule := range rules {
		if _, dup := byPattern[rule.Pattern]; dup {
			continue
		}
		byPattern[rule.Pattern] = rule
		ordered = append(ordered, rule)
	}
	return ordered, byPattern
}

// ranks numbers the patterns of rules that also appear in other.
func ranks(rules []policy.DomainRule, other map[string]policy.DomainRule) map[string]int {
	out := make(map[string]int)
	for _, rule := range rules {
		if _, ok := other[rule.Pattern]; ok {
			out[rule.Pattern] = len(out) + 1
		}
	}
	return out
}

func diffRules(r *DiffResult, oldRules, newRules []policy.DomainRule) {
	oldOrdered, oldMap := firstRules(oldRules)
	newOrdered, newMap := firstRules(newRules)
	oldRank := ranks(oldOrdered, newMap)
	newRank := ranks(newOrdered, oldMap)

	// First match wins, so a reordered rule can change which flags apply.
	for _, rule := range newOrdered {
		oldRule, exists := oldMap[rule.Pattern]
		switch {
		case !exists:
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: ruleLabel(rule),
			})
		case overrides(oldRule.Flags) != overrides(rule.Flags):
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "changed",
				Rule: fmt.Sprintf("%s (was: %s)", ruleLabel(rule), overrides(oldRule.Flags)),
			})
		case oldRank[rule.Pattern] != newRank[rule.Pattern]:
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "moved",
				Rule: fmt.Sprintf("%s (order %d → %d)", rule.Pattern, oldRank[rule.Pattern], newRank[rule.Pattern]),
			})
		}
	}

	for _, rule := range oldOrdered {
		if _, exists := newMap[rule.Pattern]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: ruleLabel(rule),
			})
		}
	}
}

// DiffFiles loads two policy files and compares them.
func DiffFiles(oldPath, newPath string) (*DiffResult, error) {
	old, err := policy.LoadConfig(oldPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", oldPath, err)
	}
	new, err := policy.LoadConfig(newPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", newPath, err)
	}
	r := Diff(old, new)
	r.OldPath = oldPath
	r.NewPath = newPath
	return r, nil
}
