package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		timeout time.Duration
		sanity  bool
	)

	cmd := &cobra.Command{
		Use:   "run <vm> <script-file>",
		Short: "Run a script inside the guest",
		Long: `Upload a script to a scratch directory of the guest, run it with the
guest shell (/bin/sh or cmd.exe), and print its exit code and output.

The scratch directory is removed after a clean run and kept for inspection
when the script fails or writes to stderr.`,
		Example: `  # Run a shell script
  vmorch run web01 ./provision.sh

  # Check the guest agent first, allow one hour
  vmorch run 10.0.0.11 ./patch.bat --sanity --timeout 1h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			script, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			op := a.start(ctx, "run", args[0])
			defer func() { op.End(err) }()
			ctx = op.Ctx

			if timeout == 0 {
				timeout = a.cfg.Timeouts.Script
			}

			g, err := a.guest(ctx, args[0])
			if err != nil {
				return err
			}

			if sanity {
				if err := g.TestSanity(ctx); err != nil {
					return fmt.Errorf("guest sanity check failed: %w", err)
				}
			}

			result := g.Run(ctx, string(script), timeout)
			log.Info().
				Str("id", result.ID).
				Int32("exit_code", result.ExitCode).
				Dur("duration", result.Duration).
				Msg("Script finished")

			if jsonOutput {
				out := map[string]any{
					"id":        result.ID,
					"exit_code": result.ExitCode,
					"stdout":    result.Stdout,
					"stderr":    result.Stderr,
					"message":   result.Message,
				}
				if result.Err != nil {
					out["error"] = result.Err.Error()
				}
				if err := printResult(out, ""); err != nil {
					return err
				}
			} else if result.Succeeded() {
				fmt.Print(result.Stdout)
			} else {
				fmt.Fprint(os.Stderr, result.String())
			}

			if result.Err != nil {
				return result.Err
			}
			if result.ExitCode != 0 {
				return fmt.Errorf("script exited with %d", result.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "script timeout (default from config)")
	cmd.Flags().BoolVar(&sanity, "sanity", false, "check the guest agent before running")
	return cmd
}
