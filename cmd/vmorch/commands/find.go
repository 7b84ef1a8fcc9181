package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type vmInfo struct {
	Name       string `json:"name"`
	Ref        string `json:"ref"`
	PowerState string `json:"power_state"`
	IPAddress  string `json:"ip_address,omitempty"`
}

func newFindCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <name|/regexp/>",
		Short: "Find virtual machines by name",
		Long: `List the virtual machines whose name equals the argument. An argument
written between slashes is matched as a regular expression.`,
		Example: `  # Exact name
  vmorch find web01

  # Every VM whose name starts with web
  vmorch find '/^web/'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			vms, err := a.client.FindVMsByName(ctx, args[0])
			if err != nil {
				return err
			}

			infos := make([]vmInfo, 0, len(vms))
			var lines []string
			for _, vm := range vms {
				values, err := vm.GetMany(ctx, "name", "runtime.powerState", "guest.ipAddress")
				if err != nil {
					log.Warn().Str("vm", vm.String()).Err(err).Msg("failed to read vm summary")
					continue
				}
				info := vmInfo{
					Name:       fmt.Sprint(values["name"]),
					Ref:        vm.Ref().String(),
					PowerState: fmt.Sprint(values["runtime.powerState"]),
				}
				if ip, ok := values["guest.ipAddress"].(string); ok {
					info.IPAddress = ip
				}
				infos = append(infos, info)
				lines = append(lines, fmt.Sprintf("%-30s %-24s %-12s %s", info.Name, info.Ref, info.PowerState, info.IPAddress))
			}

			if len(lines) == 0 {
				lines = append(lines, "No virtual machines found")
			}
			return printResult(infos, strings.Join(lines, "\n"))
		},
	}
	return cmd
}
