package policydiff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/navguard/internal/policy"
)

func ptr(b bool) *bool { return &b }

func findChange(r *DiffResult, field string) (Change, bool) {
	for _, c := range r.Changes {
		if c.Field == field {
			return c, true
		}
	}
	return Change{}, false
}

func TestIdenticalPoliciesNoChanges(t *testing.T) {
	r := Diff(policy.DefaultConfig(), policy.DefaultConfig())
	if r.HasChanges {
		t.Errorf("expected no changes, got %d changes + %d rule changes",
			len(r.Changes), len(r.RuleChanges))
	}
}

func TestDisabledDefaultIsLooser(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Defaults.StripTrackingParams = false

	r := Diff(a, b)
	if !r.HasChanges {
		t.Fatal("expected changes")
	}
	c, ok := findChange(r, "defaults.strip_tracking_params")
	if !ok {
		t.Fatal("strip_tracking_params change not found")
	}
	if c.Old != "true" || c.New != "false" {
		t.Errorf("expected true→false, got %s→%s", c.Old, c.New)
	}
	if c.Comment != "looser" {
		t.Errorf("expected 'looser', got %q", c.Comment)
	}
}

func TestDeprecatedTLSIsLooser(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Defaults.AllowDeprecatedTLS = true

	c, ok := findChange(Diff(a, b), "defaults.allow_deprecated_tls")
	if !ok {
		t.Fatal("allow_deprecated_tls change not found")
	}
	if c.Comment != "looser" {
		t.Errorf("expected 'looser', got %q", c.Comment)
	}

	c, _ = findChange(Diff(b, a), "defaults.allow_deprecated_tls")
	if c.Comment != "stricter" {
		t.Errorf("expected 'stricter' in reverse, got %q", c.Comment)
	}
}

func TestSearchEngineChange(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.SearchEngine = "https://search.example/?q=%s"

	c, ok := findChange(Diff(a, b), "search_engine")
	if !ok {
		t.Fatal("search_engine change not found")
	}
	if c.New != "https://search.example/?q=%s" {
		t.Errorf("new: got %s", c.New)
	}
}

func TestDomainRuleAddedRemovedChanged(t *testing.T) {
	a := policy.DefaultConfig()
	a.Domains = append(a.Domains,
		policy.DomainRule{Pattern: "old.example", Flags: policy.FlagOverrides{BlockLoad: ptr(false)}},
		policy.DomainRule{Pattern: "legacy.example", Flags: policy.FlagOverrides{AllowDeprecatedTLS: ptr(true)}},
	)
	b := policy.DefaultConfig()
	b.Domains = append(b.Domains,
		policy.DomainRule{Pattern: "legacy.example", Flags: policy.FlagOverrides{AllowDeprecatedTLS: ptr(false)}},
		policy.DomainRule{Pattern: "*.intranet", Flags: policy.FlagOverrides{TryHTTPS: ptr(false)}},
	)

	r := Diff(a, b)
	types := map[string]string{}
	for _, rc := range r.RuleChanges {
		types[rc.Type] = rc.Rule
	}
	if got := types["added"]; got != "*.intranet: try_https=false" {
		t.Errorf("added: got %q", got)
	}
	if got := types["removed"]; got != "old.example: block_load=false" {
		t.Errorf("removed: got %q", got)
	}
	if got := types["changed"]; got != "legacy.example: allow_deprecated_tls=false (was: allow_deprecated_tls=true)" {
		t.Errorf("changed: got %q", got)
	}
	if _, moved := types["moved"]; moved {
		t.Error("insertions alone should not report moves")
	}
}

func TestDomainRuleReordered(t *testing.T) {
	x := policy.DomainRule{Pattern: "a.example", Flags: policy.FlagOverrides{UseTor: ptr(true)}}
	y := policy.DomainRule{Pattern: "*.example", Flags: policy.FlagOverrides{UseTor: ptr(false)}}
	a := &policy.PolicyConfig{Domains: []policy.DomainRule{x, y}}
	b := &policy.PolicyConfig{Domains: []policy.DomainRule{y, x}}

	r := Diff(a, b)
	if len(r.RuleChanges) != 2 {
		t.Fatalf("expected 2 moves, got %+v", r.RuleChanges)
	}
	for _, rc := range r.RuleChanges {
		if rc.Type != "moved" {
			t.Errorf("expected moved, got %s", rc.Type)
		}
	}
}

func TestShadowedDuplicateIgnored(t *testing.T) {
	rule := policy.DomainRule{Pattern: "x.example", Flags: policy.FlagOverrides{BlockLoad: ptr(true)}}
	shadow := policy.DomainRule{Pattern: "x.example", Flags: policy.FlagOverrides{BlockLoad: ptr(false)}}
	a := &policy.PolicyConfig{Domains: []policy.DomainRule{rule}}
	b := &policy.PolicyConfig{Domains: []policy.DomainRule{rule, shadow}}

	if r := Diff(a, b); r.HasChanges {
		t.Errorf("a shadowed rule never matches, got %+v", r.RuleChanges)
	}
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.yaml")
	newPath := filepath.Join(dir, "new.yaml")
	if err := os.WriteFile(oldPath, []byte(policy.DefaultConfigYAML()), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newPath, []byte("defaults:\n  block_load: false\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := DiffFiles(oldPath, newPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.OldPath != oldPath || r.NewPath != newPath {
		t.Errorf("paths not set: %s %s", r.OldPath, r.NewPath)
	}
	if _, ok := findChange(r, "defaults.block_load"); !ok {
		t.Error("block_load change not found")
	}
}

func TestDiffFilesInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("defaults: [not, a, map]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := DiffFiles(bad, bad); err == nil {
		t.Error("expected error for invalid policy")
	}
}

func TestFormatText(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Defaults.PreventXSS = false
	b.SearchEngine = "https://search.example/?q=%s"
	b.Domains = nil

	r := Diff(a, b)
	r.OldPath, r.NewPath = "a.yaml", "b.yaml"
	out := FormatText(r)

	for _, want := range []string{
		"Policy diff: a.yaml → b.yaml",
		"search_engine:",
		"Defaults:",
		"prevent_xss:",
		"(looser)",
		"- *.onion: use_tor=true",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFormatTextNoChanges(t *testing.T) {
	r := Diff(policy.DefaultConfig(), policy.DefaultConfig())
	r.OldPath, r.NewPath = "a.yaml", "a.yaml"
	if !strings.Contains(FormatText(r), "No changes detected.") {
		t.Error("expected no-change message")
	}
}

func TestFormatJSON(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Defaults.UseTor = true

	out, err := FormatJSON(Diff(a, b))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"field": "defaults.use_tor"`) {
		t.Errorf("unexpected JSON:\n%s", out)
	}
}
