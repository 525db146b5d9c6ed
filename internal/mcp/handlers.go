package mcp

import (
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/navguard/internal/engine"
	"github.com/ppiankov/navguard/internal/model"
)

// --- Input/Output types ---

// ResolveInput defines parameters for the navguard_resolve tool.
type ResolveInput struct {
	Input string `json:"input" jsonschema:"what the user typed: a URL, a host or search terms"`
}

// ResolveOutput lists the load candidates, first to last.
type ResolveOutput struct {
	Candidates []string `json:"candidates"`
}

// CheckInput defines parameters for the navguard_check tool.
type CheckInput struct {
	Input string `json:"input" jsonschema:"URL, host or search terms to check"`
}

// CheckOutput is the dry-run report.
type CheckOutput = engine.Report

// LoadInput defines parameters for the navguard_load tool.
type LoadInput struct {
	Input string `json:"input" jsonschema:"URL, host or search terms to load"`
}

// LoadOutput contains the loaded page or the failure.
type LoadOutput struct {
	URL     string `json:"url,omitempty"`
	Status  int    `json:"status,omitempty"`
	Title   string `json:"title,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// --- Handlers ---

func (s *Server) handleResolve(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	actions := s.engine.Resolver.Resolve(input.Input)
	if actions.Empty() {
		return nil, ResolveOutput{}, fmt.Errorf("%q does not resolve to a URL", input.Input)
	}
	return nil, ResolveOutput{Candidates: actions.URLs()}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	rep, err := s.engine.Check(ctx, input.Input)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	if rep.Blocked {
		return &mcpsdk.CallToolResult{IsError: true}, rep, nil
	}
	return nil, rep, nil
}

func (s *Server) handleLoad(ctx context.Context, req *mcpsdk.CallToolRequest, input LoadInput) (*mcpsdk.CallToolResult, LoadOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	out, err := s.engine.Navigate(ctx, input.Input)
	if err != nil {
		return nil, LoadOutput{}, err
	}
	if out.Err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, LoadOutput{
			Blocked: errors.Is(out.Err, model.ErrPolicyBlocked) || errors.Is(out.Err, model.ErrTrustRejected),
			Reason:  out.Err.Error(),
		}, nil
	}

	lo := LoadOutput{Status: out.Page.Status, Title: out.Page.Title}
	if out.Page.URL != nil {
		lo.URL = out.Page.URL.String()
	}
	return nil, lo, nil
}
