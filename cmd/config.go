package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/dnsniff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration that results from defaults, the file given with -c
and DNSNIFF_* environment variables. The output is a valid configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(configFile, cmd.OutOrStdout())
	},
}

func runConfig(path string, out io.Writer) error {
	cfg, err := config.Read(path, nil)
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, string(data))
	return err
}
