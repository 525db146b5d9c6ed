package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/config"
	"github.com/ppiankov/navguard/internal/engine"
	"github.com/ppiankov/navguard/internal/logging"
)

var (
	cfg *config.Config

	flagPolicy    string
	flagDenylist  string
	flagRulesDB   string
	flagRulesSeed string
	flagPreload   string
	flagRulesets  string
	flagPinDir    string
	flagTorProxy  string
	flagAuditLog  string
	flagNoAudit   bool
	flagLogLevel  string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagPolicy, "policy", "", "Path to policy YAML (default ~/.navguard/policy.yaml)")
	pf.StringVar(&flagDenylist, "denylist", "", "Path to denylist YAML (default ~/.navguard/denylist.yaml)")
	pf.StringVar(&flagRulesDB, "rules-db", "", "Path to the SQLite rule store (default in memory)")
	pf.StringVar(&flagRulesSeed, "rules", "", "Path to a rules seed YAML replacing the built-in rules")
	pf.StringVar(&flagPreload, "preload", "", "Path to an HSTS preload list (Chromium JSON layout)")
	pf.StringVar(&flagRulesets, "rulesets", "", "Directory of HTTPS upgrade rulesets")
	pf.StringVar(&flagPinDir, "pin-dir", "", "Directory of extra PEM certificates to pin")
	pf.StringVar(&flagTorProxy, "tor-proxy", "", "SOCKS5 address for tor: and tors: URLs")
	pf.StringVar(&flagAuditLog, "audit-log", "", "Path to the decision audit log (default ~/.navguard/audit.jsonl)")
	pf.BoolVar(&flagNoAudit, "no-audit", false, "Do not write the decision audit log")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

var rootCmd = &cobra.Command{
	Use:   "navguard",
	Short: "Navigation policy and content-trust pipeline",
	Long: "Decides what happens to every navigation: HTTPS upgrades, tracking\n" +
		"parameter stripping, redirector skipping, policy blocks, danger checks\n" +
		"and certificate pinning. Every decision is written to a hash-chained\n" +
		"audit log.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		cfg = loaded
		return nil
	},
}

// applyFlags overrides environment settings with flags given on the
// command line.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("policy") {
		c.Policy.File = flagPolicy
	}
	if changed("denylist") {
		c.Policy.Denylist = flagDenylist
	}
	if changed("rules-db") {
		c.Rules.DB = flagRulesDB
	}
	if changed("rules") {
		c.Rules.Seed = flagRulesSeed
	}
	if changed("preload") {
		c.Upgrade.Preload = flagPreload
	}
	if changed("rulesets") {
		c.Upgrade.Rulesets = flagRulesets
	}
	if changed("pin-dir") {
		c.Trust.PinDir = flagPinDir
	}
	if changed("tor-proxy") {
		c.Loader.TorProxy = flagTorProxy
	}
	if changed("audit-log") {
		c.Audit.File = flagAuditLog
	}
	if changed("no-audit") {
		c.Audit.Disabled = flagNoAudit
	}
	if changed("log-level") {
		c.Log.Level = flagLogLevel
	}
}

// currentConfig returns the resolved config, or the defaults when a command
// runs without the root pre-run (tests).
func currentConfig() *config.Config {
	if cfg == nil {
		return config.LoadOrDefault()
	}
	return cfg
}

// newEngine builds the engine for a command. The caller closes it.
func newEngine() (*engine.Engine, *zap.Logger, error) {
	c := currentConfig()
	log, err := logging.New(c.Logging())
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	e, err := engine.New(c, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return e, log, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
