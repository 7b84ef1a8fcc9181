package commands

import (
	"time"

	"github.com/spf13/cobra"
)

func newMetricsCommand() *cobra.Command {
	var probe time.Duration

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus metrics",
		Long: `Serve the Prometheus endpoint configured under telemetry.metrics until
interrupted. The endpoint session is kept alive with a liveness probe every
--probe interval, so session and retry metrics reflect the endpoint health.`,
		Example: `  vmorch metrics --probe 30s`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if probe > 0 {
				go func() {
					ticker := time.NewTicker(probe)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							if _, err := a.client.Conn(ctx); err != nil {
								a.tel.Logger.WithError(err).Warn("session probe failed")
							}
						}
					}
				}()
			}

			a.tel.Logger.WithAddress(a.cfg.Endpoint.Address).Info("Serving metrics")
			return a.tel.Metrics.Serve(ctx)
		},
	}

	cmd.Flags().DurationVar(&probe, "probe", time.Minute, "session liveness probe interval (0 disables)")
	return cmd
}
