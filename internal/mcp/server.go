// Package mcp exposes navguard navigation decisions as MCP tools over
// stdio.
package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/navguard/internal/engine"
)

// DefaultLoadTimeout bounds a navguard_load call.
const DefaultLoadTimeout = 90 * time.Second

// Config holds MCP server configuration.
type Config struct {
	Engine      *engine.Engine
	Version     string
	LoadTimeout time.Duration
}

// Server wraps the MCP SDK server around one navguard engine.
type Server struct {
	mcpServer   *mcpsdk.Server
	engine      *engine.Engine
	loadTimeout time.Duration
}

// New creates an MCP server with the navguard tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("mcp: engine is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}

	s := &Server{engine: cfg.Engine, loadTimeout: cfg.LoadTimeout}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "navguard",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all navguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "navguard_resolve",
		Description: "Turn typed input (URL, host or search terms) into the ordered list of URLs navguard would try.",
	}, s.handleResolve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "navguard_check",
		Description: "Dry-run the navigation decisions for input: rewrites, policy block and danger check. No network access.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "navguard_load",
		Description: "Load input through navguard and return the final URL, status and title. Blocked or failed loads return an error with the reason.",
	}, s.handleLoad)
}
