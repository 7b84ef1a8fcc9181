package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vmorch",
		Short: "vmorch - vSphere VM and guest operations",
		Long: `vmorch drives vCenter and ESXi endpoints through the vSphere management API.

It logs in once per endpoint, finds virtual machines by name or address,
changes their power state and runs scripts or transfers files inside the
guest operating system through VMware Tools.

Secrets can be supplied through VMORCH_PASSWORD and VMORCH_GUEST_PASSWORD.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $VMORCH_CONFIG or ./vmorch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newFindCommand())
	rootCmd.AddCommand(newPowerCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newDownloadCommand())
	rootCmd.AddCommand(newMetricsCommand())

	return rootCmd
}
