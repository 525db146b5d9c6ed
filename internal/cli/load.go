package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/navigation"
)

var (
	loadTimeout time.Duration
	loadFormat  string
	loadVerbose bool
)

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().DurationVar(&loadTimeout, "timeout", 90*time.Second, "Give up on the whole navigation after this long")
	loadCmd.Flags().StringVarP(&loadFormat, "format", "f", "text", "Output format (text|json)")
	loadCmd.Flags().BoolVarP(&loadVerbose, "verbose", "v", false, "Print state changes and upgrades to stderr")
}

var loadCmd = &cobra.Command{
	Use:   "load <url|host|search terms>",
	Short: "Load a page through the navigation pipeline",
	Long: "Resolves the input into candidates, loads them in order through every\n" +
		"navigation decision and prints the final URL, status and title.\n" +
		"Exit code 1 if the navigation fails or is blocked.",
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

type loadResult struct {
	URL    string `json:"url,omitempty"`
	Status int    `json:"status,omitempty"`
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
}

// progressPrinter reports navigation events on stderr.
type progressPrinter struct {
	navigation.BaseDelegate
}

func (progressPrinter) StateChanged(s navigation.State) {
	fmt.Fprintf(os.Stderr, "state: %s\n", s)
}

func (progressPrinter) IsLoading(u *url.URL) {
	fmt.Fprintf(os.Stderr, "loading: %s\n", u.Redacted())
}

func (progressPrinter) DidUpgradeLoad(u *url.URL) {
	fmt.Fprintf(os.Stderr, "upgraded: %s\n", u.Redacted())
}

func runLoad(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	if loadVerbose {
		e.Session.Subscribe(progressPrinter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	out, err := e.Navigate(ctx, joinArgs(args))
	if err != nil {
		return err
	}

	res := loadResult{Status: out.Page.Status, Title: out.Page.Title}
	if out.Page.URL != nil {
		res.URL = out.Page.URL.String()
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}

	switch loadFormat {
	case "json":
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	default:
		if out.Err != nil {
			fmt.Fprintf(os.Stderr, "FAILED: %v\n", out.Err)
		} else {
			fmt.Printf("%d %s\n", res.Status, res.URL)
			if res.Title != "" {
				fmt.Printf("title: %s\n", res.Title)
			}
		}
	}

	if out.Err != nil {
		e.Close()
		os.Exit(1)
	}
	return nil
}
