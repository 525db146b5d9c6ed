package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two policy files and show changes",
	Long: "Loads two navigation policy files and shows what changed: default\n" +
		"flags (marked stricter or looser), the search engine, and domain rules\n" +
		"added, removed, changed or reordered.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	result, err := policydiff.DiffFiles(args[0], args[1])
	if err != nil {
		return err
	}

	switch diffFormat {
	case "json":
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(policydiff.FormatText(result))
	}

	return nil
}
