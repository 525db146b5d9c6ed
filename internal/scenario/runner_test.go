package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/navguard/internal/engine"
)

type fakeChecker map[string]engine.Report

func (f fakeChecker) Check(_ context.Context, input string) (engine.Report, error) {
	rep, ok := f[input]
	if !ok {
		return engine.Report{}, errors.New("does not resolve")
	}
	return rep, nil
}

var checker = fakeChecker{
	"example.com": {URL: "https://example.com/"},
	"https://example.com/?utm_source=x": {URL: "https://example.com/"},
	"https://ads.example/": {
		URL:     "https://ads.example/",
		Blocked: true,
		Stage:   "denylist",
		Reason:  "denylisted host",
	},
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAllCasesPass(t *testing.T) {
	s := &Scenario{
		Name: "basic",
		Cases: []Case{
			{Input: "example.com", Expect: "allow"},
			{Input: "https://ads.example/", Expect: "BLOCK", Stage: "denylist"},
		},
	}

	result := Run(context.Background(), s, checker)
	if result.Failed != 0 {
		t.Errorf("expected 0 failures, got %d: %+v", result.Failed, result.Cases)
	}
	if result.Passed != 2 {
		t.Errorf("expected 2 passed, got %d", result.Passed)
	}
}

func TestFailedAssertionDetected(t *testing.T) {
	s := &Scenario{
		Name:  "wrong expectation",
		Cases: []Case{{Input: "example.com", Expect: "block"}},
	}

	result := Run(context.Background(), s, checker)
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", result.Failed)
	}
	if got := result.Cases[0].Mismatch; got != "expected block, got allow" {
		t.Errorf("mismatch: got %q", got)
	}
}

func TestURLAssertion(t *testing.T) {
	s := &Scenario{
		Name: "rewrites",
		Cases: []Case{
			{Input: "https://example.com/?utm_source=x", Expect: "allow", URL: "https://example.com/"},
			{Input: "https://example.com/?utm_source=x", Expect: "allow", URL: "https://example.com/?utm_source=x"},
		},
	}

	result := Run(context.Background(), s, checker)
	if !result.Cases[0].Passed {
		t.Errorf("case 1 should pass: %s", result.Cases[0].Mismatch)
	}
	if result.Cases[1].Passed {
		t.Error("case 2 should fail on the url")
	}
	if !strings.HasPrefix(result.Cases[1].Mismatch, "expected url") {
		t.Errorf("mismatch: got %q", result.Cases[1].Mismatch)
	}
}

func TestStageAssertion(t *testing.T) {
	s := &Scenario{
		Name:  "stage",
		Cases: []Case{{Input: "https://ads.example/", Expect: "block", Stage: "danger"}},
	}

	result := Run(context.Background(), s, checker)
	if result.Cases[0].Passed {
		t.Error("expected stage mismatch")
	}
}

func TestUnresolvableInputFails(t *testing.T) {
	s := &Scenario{
		Name:  "garbage",
		Cases: []Case{{Input: "   ", Expect: "allow"}},
	}

	result := Run(context.Background(), s, checker)
	c := result.Cases[0]
	if c.Passed {
		t.Error("expected failure")
	}
	if c.Actual != "error" {
		t.Errorf("actual: got %s", c.Actual)
	}
	if c.Reason == "" {
		t.Error("reason should carry the error")
	}
}

func TestEmptyCasesList(t *testing.T) {
	result := Run(context.Background(), &Scenario{Name: "empty"}, checker)
	if result.Total != 0 || result.Failed != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestCaseResultFieldsPopulated(t *testing.T) {
	s := &Scenario{
		Name:  "fields",
		Cases: []Case{{Input: "https://ads.example/", Expect: "block"}},
	}

	result := Run(context.Background(), s, checker)
	if len(result.Cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(result.Cases))
	}
	c := result.Cases[0]
	if c.Index != 1 {
		t.Errorf("index: got %d", c.Index)
	}
	if c.Input != "https://ads.example/" {
		t.Errorf("input: got %s", c.Input)
	}
	if c.Expected != "block" || c.Actual != "block" {
		t.Errorf("expected/actual: got %s/%s", c.Expected, c.Actual)
	}
	if c.Stage != "denylist" {
		t.Errorf("stage: got %s", c.Stage)
	}
	if c.Reason != "denylisted host" {
		t.Errorf("reason: got %s", c.Reason)
	}
	if !c.Passed {
		t.Error("expected passed=true")
	}
}

func TestLoadAndRunFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "test.yaml", `
name: "file test"
cases:
  - input: example.com
    expect: allow
    url: https://example.com/
`)

	result, err := LoadAndRun(context.Background(), path, checker)
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed != 1 {
		t.Errorf("expected 1 passed, got %d: %+v", result.Passed, result.Cases)
	}
	if result.File != path {
		t.Errorf("expected file path set, got %q", result.File)
	}
}

func TestInvalidScenarioYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "bad.yaml", ":::not yaml\x00")

	if _, err := LoadAndRun(context.Background(), path, checker); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestUnknownExpectation(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "odd.yaml", `
name: odd
cases:
  - input: example.com
    expect: maybe
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "case 1") {
		t.Errorf("expected case error, got %v", err)
	}
}

func TestMultipleScenariosViaGlob(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", `
name: "scenario A"
cases:
  - input: example.com
    expect: allow
`)
	writeScenario(t, dir, "b.yaml", `
name: "scenario B"
cases:
  - input: https://ads.example/
    expect: block
`)

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	var results []*RunResult
	for _, m := range matches {
		r, err := LoadAndRun(context.Background(), m, checker)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, r)
	}

	out := FormatText(results)
	if !strings.Contains(out, "2 of 2 cases passed.") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "Checking 2 scenario files") {
		t.Errorf("unexpected header:\n%s", out)
	}
}

func TestFormatTextReportsFailures(t *testing.T) {
	s := &Scenario{
		Name:  "broken",
		Cases: []Case{{Input: "example.com", Expect: "block"}},
	}
	out := FormatText([]*RunResult{Run(context.Background(), s, checker)})
	if !strings.Contains(out, "FAIL  broken (0/1)") {
		t.Errorf("missing scenario failure:\n%s", out)
	}
	if !strings.Contains(out, "expected block, got allow") {
		t.Errorf("missing case mismatch:\n%s", out)
	}
	if !strings.Contains(out, "1 of 1 scenarios failed.") {
		t.Errorf("missing totals:\n%s", out)
	}
}
