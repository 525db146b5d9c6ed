package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/rules"
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesStatsCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesDefaultCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Tracking-parameter and redirector rule store",
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print rule counts",
	RunE:  runRulesStats,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <seed.yaml>",
	Short: "Add the rules of a seed file to the persistent store",
	Long:  "Adds every rule in the seed file to the store named by --rules-db,\nkeeping the rules already there.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesImport,
}

var rulesDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the built-in rules as a seed file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(rules.DefaultSeedYAML())
	},
}

func runRulesStats(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	st, err := e.Rules.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("strip rules:     %d\n", st.StripRules)
	fmt.Printf("redirects:       %d\n", st.Redirects)
	fmt.Printf("redirect params: %d\n", st.RedirectParams)
	return nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	if c.Rules.DB == "" {
		return fmt.Errorf("rules import needs a persistent store: pass --rules-db or set NAVGUARD_RULES_DB")
	}
	seed, err := rules.LoadSeed(args[0])
	if err != nil {
		return err
	}
	store, err := rules.Open(c.Rules.DB, nil)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Import(seed); err != nil {
		return err
	}
	st, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s into %s (%d strip rules, %d redirects, %d redirect params)\n",
		args[0], c.Rules.DB, st.StripRules, st.Redirects, st.RedirectParams)
	return nil
}
