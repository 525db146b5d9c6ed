package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <url|host|search terms>",
	Short: "Print the URLs an input resolves to, in load order",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	actions := e.Resolver.Resolve(joinArgs(args))
	if actions.Empty() {
		return fmt.Errorf("%q does not resolve to a URL", joinArgs(args))
	}
	for _, a := range actions {
		tag := ""
		if a.Upgraded {
			tag = "  (upgraded)"
		}
		fmt.Printf("%s%s\n", a.URL, tag)
	}
	return nil
}

// joinArgs rebuilds typed input split by the shell.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
