package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	navmcp "github.com/ppiankov/navguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs navguard as an MCP (Model Context Protocol) server over stdio.\nExposes tools: navguard_resolve, navguard_check, navguard_load.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	srv, err := navmcp.New(navmcp.Config{Engine: e, Version: version})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Watch(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot reload disabled: %v\n", err)
	}

	fmt.Fprintln(os.Stderr, "navguard MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Session: %s\n\n", e.Session.ID())

	err = srv.Run(ctx)
	fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
	return err
}
