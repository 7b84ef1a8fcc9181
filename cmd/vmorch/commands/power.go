package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPowerCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "power <vm> on|off|shutdown|reboot",
		Short: "Change the power state of a virtual machine",
		Long: `Change the power state of the virtual machine named or addressed by <vm>.

  on        power on and wait for the poweredOn state
  off       hard power off
  shutdown  guest shutdown through VMware Tools
  reboot    guest shutdown followed by power on

Requests for the current state return immediately.`,
		Example: `  vmorch power web01 on
  vmorch power 10.0.0.11 reboot --timeout 10m`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off", "shutdown", "reboot"},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			op := a.start(ctx, "power", args[0])
			defer func() { op.End(err) }()
			ctx = op.Ctx

			if timeout == 0 {
				timeout = a.cfg.Timeouts.Power
			}

			vm, err := a.client.FindVM(ctx, args[0])
			if err != nil {
				return err
			}

			op.Logger.WithVM(vm.String()).Infof("Changing power state: %s (timeout %s)", args[1], timeout)

			switch args[1] {
			case "on":
				err = vm.PowerOn(ctx, timeout)
			case "off":
				err = vm.PowerOff(ctx, timeout)
			case "shutdown":
				err = vm.ShutdownGuest(ctx, timeout)
			case "reboot":
				err = vm.Reboot(ctx, timeout)
			default:
				return fmt.Errorf("unknown power action %q", args[1])
			}
			if err != nil {
				return err
			}

			state, err := vm.PowerState(ctx)
			if err != nil {
				return err
			}
			return printResult(map[string]string{
				"vm":          args[0],
				"power_state": state,
			}, fmt.Sprintf("%s is %s", args[0], state))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wait timeout (default from config)")
	return cmd
}
