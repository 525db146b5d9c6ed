package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/scenario"
)

var scenarioFormat string

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.Flags().StringVarP(&scenarioFormat, "format", "f", "text", "Output format (text|json)")
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario <glob>...",
	Short: "Run navigation assertions from scenario files",
	Long: "Each scenario file lists inputs with the decision they must get:\n\n" +
		"  name: trackers\n" +
		"  cases:\n" +
		"    - input: https://example.com/?utm_source=x\n" +
		"      expect: allow\n" +
		"      url: https://example.com/\n" +
		"    - input: https://ad.doubleclick.net/x\n" +
		"      expect: block\n\n" +
		"Cases are dry-run checks against the configured policy and rules.\n" +
		"Exit code 0 if every case passes, 1 otherwise.",
	Args: cobra.MinimumNArgs(1),
	RunE: runScenario,
}

func runScenario(cmd *cobra.Command, args []string) error {
	var files []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenario files match %v", args)
	}

	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	ctx := context.Background()
	var results []*scenario.RunResult
	failed := false
	for _, f := range files {
		r, err := scenario.LoadAndRun(ctx, f, e)
		if err != nil {
			return err
		}
		if r.Failed > 0 {
			failed = true
		}
		results = append(results, r)
	}

	switch scenarioFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(scenario.FormatText(results))
	}

	if failed {
		e.Close()
		os.Exit(1)
	}
	return nil
}
