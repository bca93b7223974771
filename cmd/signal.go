package cmd

import (
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/dnsniff/internal/config"
	"firestige.xyz/dnsniff/internal/daemon"
)

var pidFileFlag string

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running dnsniff",
	Long: `Send SIGTERM to the dnsniff process recorded in the PID file.
The process drains its rings, prints final statistics and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSignal(configFile, pidFileFlag, syscall.SIGTERM, cmd.OutOrStdout())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload logging configuration of a running dnsniff",
	Long: `Send SIGHUP to the dnsniff process recorded in the PID file.
The process re-reads its configuration file and applies the log level and format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSignal(configFile, pidFileFlag, syscall.SIGHUP, cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, reloadCmd} {
		c.Flags().StringVar(&pidFileFlag, "pid-file", "", "PID file (defaults to control.pid_file)")
	}
}

// runSignal resolves the PID file from the flag or the configuration and signals its process.
func runSignal(cfgPath, pidFile string, sig syscall.Signal, out io.Writer) error {
	if pidFile == "" {
		cfg, err := config.Read(cfgPath, nil)
		if err != nil {
			return err
		}
		pidFile = cfg.Control.PIDFile
	}
	if pidFile == "" {
		return fmt.Errorf("no PID file: set control.pid_file or --pid-file")
	}

	pid, err := daemon.SignalRunning(pidFile, sig)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s to dnsniff (pid %d)\n", sig, pid)
	return nil
}
