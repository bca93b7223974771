package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/dnsniff/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without opening any socket.

Examples:
  dnsniff validate -c /etc/dnsniff/dnsniff.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

// runValidate prints VALID with a summary, or returns the INVALID reason.
func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path, nil)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	source := "interface " + cfg.Capture.Interface
	if cfg.Capture.Backend == "pcap" {
		source = "pcap " + cfg.Capture.PcapFile
	}
	fmt.Fprintf(out, "VALID: %s, backend %s, %d worker(s), fanout %s, ports %v, sink %s\n",
		source,
		cfg.Capture.Backend,
		cfg.Capture.Workers,
		cfg.Capture.Fanout,
		cfg.Decoder.Ports,
		cfg.Sink.Type,
	)
	return nil
}
