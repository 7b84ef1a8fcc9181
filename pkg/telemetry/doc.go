// Package telemetry provides the observability stack of vmorch.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and lifecycle events into one
// Telemetry value created at startup:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// NewTelemetry installs its logger as the global zerolog logger and, when
// tracing is enabled, its tracer provider as the global OpenTelemetry
// provider. Library packages (session, retry, guest) log through
// github.com/rs/zerolog/log and start spans through otel.Tracer, so they
// never import this package.
//
// # Observer
//
// Observer implements session.Observer, retry.Observer and guest.Observer.
// Plugging tel.Observer() into those packages turns logins, retry outcomes,
// file transfers and guest scripts into metrics and events:
//
//	obs := tel.Observer()
//	retry.SetObserver(obs)
//	sessions := session.NewManager(dial, session.WithObserver(obs))
//
// # Metrics
//
// All metrics live on a private registry under the configured namespace
// (default "vmorch"):
//
//   - logins_total, login_duration_seconds, logouts_total, active_sessions
//   - session_refreshes_total
//   - retry_attempt_failures_total, retry_runs_total, retry_duration_seconds
//   - guest_transfers_total, guest_transfer_bytes_total,
//     guest_transfer_duration_seconds
//   - guest_programs_started_total, guest_scripts_total,
//     guest_script_duration_seconds
//   - errors_by_kind_total
//
// Metrics.Serve exposes them over HTTP until its context is canceled. Every
// Record method is a no-op when metrics are disabled.
//
// # Events
//
// EventPublisher delivers events to subscribers in publication order,
// either inline or from a background goroutine when EnableAsync is set.
// Filters select events by level, type or endpoint address.
package telemetry
