package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/engine"
)

var checkFormat string

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check <url|host|search terms>",
	Short: "Dry-run the navigation decisions for an input",
	Long: "Shows the candidates the input resolves to, every rewrite the\n" +
		"pipeline applies to the first one, and whether policy or the danger\n" +
		"check would block it. Nothing is fetched.\n\n" +
		"Exit code 0 if the navigation would proceed, 1 if it would be blocked.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	rep, err := e.Check(context.Background(), joinArgs(args))
	if err != nil {
		return err
	}

	switch checkFormat {
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		fmt.Println(string(data))
	default:
		fmt.Print(formatReport(rep))
	}

	if rep.Blocked {
		e.Close()
		os.Exit(1)
	}
	return nil
}

func formatReport(rep engine.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "input:      %s\n", rep.Input)
	for i, c := range rep.Candidates {
		fmt.Fprintf(&b, "candidate%d: %s\n", i+1, c)
	}
	for _, s := range rep.Steps {
		line := fmt.Sprintf("  %-8s -> %s", s.Stage, s.URL)
		if len(s.Changes) > 0 {
			line += "  [" + strings.Join(s.Changes, ", ") + "]"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "final:      %s\n", rep.URL)
	if rep.Pinned {
		b.WriteString("trust:      pinned host, chain verified on connect\n")
	}
	if rep.Tor {
		b.WriteString("route:      tor\n")
	}
	if rep.Blocked {
		fmt.Fprintf(&b, "decision:   BLOCK (%s: %s)\n", rep.PolicyID, rep.Reason)
	} else {
		b.WriteString("decision:   ALLOW\n")
	}
	return b.String()
}
