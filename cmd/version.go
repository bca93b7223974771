package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/dnsniff/internal/capture"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dnsniff %s (%s %s/%s, backends: %s)\n",
			Version, runtime.Version(), runtime.GOOS, runtime.GOARCH,
			strings.Join(capture.Backends(), ", "))
	},
}
