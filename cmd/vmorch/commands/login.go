package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validate the endpoint credentials",
		Long: `Log in to the configured endpoint with a fresh session and report
whether it is a vCenter or a standalone ESXi host.`,
		Example: `  # Validate credentials from vmorch.yaml
  vmorch login

  # Use another configuration
  vmorch login --config lab.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.client.ValidateLogin(ctx); err != nil {
				return err
			}
			vcenter, err := a.client.IsVCenter(ctx)
			if err != nil {
				return err
			}

			kind := "ESXi"
			if vcenter {
				kind = "vCenter"
			}
			return printResult(map[string]any{
				"address": a.cfg.Endpoint.Address,
				"user":    a.cfg.Endpoint.User,
				"vcenter": vcenter,
			}, fmt.Sprintf("Logged in to %s %s as %s", kind, a.cfg.Endpoint.Address, a.cfg.Endpoint.User))
		},
	}
	return cmd
}
