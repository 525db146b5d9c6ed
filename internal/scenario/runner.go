// Package scenario runs YAML navigation assertions against the decision
// pipeline. Each case is a dry-run check, so scenarios are safe in CI.
package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/navguard/internal/engine"
)

const (
	ExpectAllow = "allow"
	ExpectBlock = "block"
)

// Checker produces the dry-run decision for an input.
type Checker interface {
	Check(ctx context.Context, input string) (engine.Report, error)
}

// Run checks every case in s. Cases are independent.
func Run(ctx context.Context, s *Scenario, c Checker) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, tc := range s.Cases {
		cr := CaseResult{
			Index:    i + 1,
			Input:    tc.Input,
			Expected: strings.ToLower(tc.Expect),
		}

		rep, err := c.Check(ctx, tc.Input)
		switch {
		case err != nil:
			cr.Actual = "error"
			cr.Reason = err.Error()
		case rep.Blocked:
			cr.Actual = ExpectBlock
		default:
			cr.Actual = ExpectAllow
		}
		if err == nil {
			cr.URL = rep.URL
			cr.Stage = rep.Stage
			cr.Reason = rep.Reason
		}

		cr.Mismatch = mismatch(tc, cr)
		if cr.Mismatch == "" {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

func mismatch(tc Case, cr CaseResult) string {
	if cr.Actual != cr.Expected {
		return fmt.Sprintf("expected %s, got %s", cr.Expected, cr.Actual)
	}
	if tc.URL != "" && tc.URL != cr.URL {
		return fmt.Sprintf("expected url %s, got %s", tc.URL, cr.URL)
	}
	if tc.Stage != "" && tc.Stage != cr.Stage {
		return fmt.Sprintf("expected stage %s, got %s", tc.Stage, cr.Stage)
	}
	return ""
}

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	for i, tc := range s.Cases {
		switch strings.ToLower(tc.Expect) {
		case ExpectAllow, ExpectBlock:
		default:
			return nil, fmt.Errorf("scenario %s case %d: expect must be allow or block, got %q", path, i+1, tc.Expect)
		}
	}
	return &s, nil
}

// LoadAndRun loads a scenario YAML file and runs it.
func LoadAndRun(ctx context.Context, path string, c Checker) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result := Run(ctx, s, c)
	result.File = path
	return result, nil
}
