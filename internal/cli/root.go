// Package cli implements the cctd command-line interface using Cobra:
// the daemon's serve subcommand plus whatever operator utilities sit
// alongside it.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cctd",
	Short: "cctd — SAXS beamline device-coordination daemon",
	Long: `cctd coordinates motor controllers, the area detector, the X-ray
source, vacuum gauges, thermostats, and sample-changer pumps for a small-angle
X-ray scattering beamline, and drives scans and transmission measurements
against them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/cctd/main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
