package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/navguard/internal/certpin"
)

var probeTimeout time.Duration

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinListCmd)
	pinCmd.AddCommand(pinProbeCmd)
	pinProbeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "Handshake timeout")
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Certificate pinning operations",
}

var pinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned hosts and the certificates they must chain through",
	RunE:  runPinList,
}

var pinProbeCmd = &cobra.Command{
	Use:   "probe <host[:port]>",
	Short: "Handshake with a host and print the pin verdict",
	Long:  "Connects to the host, evaluates the presented chain against the pin\nset and prints the verdict. Exit code 1 on Reject.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPinProbe,
}

func runPinList(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	pins := e.Evaluator.Pins()
	fmt.Println("Hosts:")
	for _, h := range pins.Hosts() {
		fmt.Printf("  %s\n", h)
	}
	fmt.Println("Certificates:")
	for _, c := range pins.Certificates() {
		fmt.Printf("  %s  %s\n", certpin.Fingerprint(c), c.Subject.CommonName)
	}
	return nil
}

func runPinProbe(cmd *cobra.Command, args []string) error {
	e, log, err := newEngine()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer e.Close()

	addr := args[0]
	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		host = addr
		addr = net.JoinHostPort(addr, "443")
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	v, chain, err := e.Evaluator.Probe(ctx, addr, host)

	fmt.Printf("%s: %s\n", host, v)
	for i, c := range chain {
		fmt.Printf("  [%d] %s  %s\n", i, certpin.Fingerprint(c), c.Subject.CommonName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reason: %v\n", err)
	}
	if v == certpin.Reject {
		e.Close()
		os.Exit(1)
	}
	return nil
}
