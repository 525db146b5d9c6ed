package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/navguard/internal/denylist"
	"github.com/ppiankov/navguard/internal/policy"
	"github.com/ppiankov/navguard/internal/rules"
)

var (
	initDir   string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.navguard)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default policy, denylist and rules files",
	Long: `Creates the config directory with the built-in policy.yaml,
denylist.yaml and rules.yaml so they can be edited. navguard reloads
them while running.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	denylistContent, err := defaultDenylistYAML()
	if err != nil {
		return fmt.Errorf("generate default denylist: %w", err)
	}

	var created []string
	for _, f := range []struct {
		name    string
		content string
	}{
		{"policy.yaml", policy.DefaultConfigYAML()},
		{"denylist.yaml", denylistContent},
		{"rules.yaml", rules.DefaultSeedYAML()},
	} {
		path := filepath.Join(configDir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	fmt.Println("navguard init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
	}
	fmt.Println()
	fmt.Println("Try:")
	fmt.Printf("  navguard check --rules %s example.com\n", filepath.Join(configDir, "rules.yaml"))
	return nil
}

// initConfigDir returns the configuration directory.
func initConfigDir() (string, error) {
	if initDir != "" {
		return initDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".navguard"), nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultDenylistYAML generates a commented default denylist.yaml.
func defaultDenylistYAML() (string, error) {
	data, err := yaml.Marshal(denylist.DefaultPatterns)
	if err != nil {
		return "", err
	}
	header := "# navguard denylist.\n" +
		"# urls: glob patterns matched anywhere in the URL (\"*\" within a path\n" +
		"# segment, \"**\" across segments). Matching loads are blocked.\n" +
		"# dangerous: host -> reason; the host and its subdomains get a\n" +
		"# dangerous-site block.\n\n"
	return header + string(data), nil
}
