package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Status label values.
const (
	statusOK    = "ok"
	statusError = "error"
)

func statusOf(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}

// Metrics provides Prometheus metrics for vmorch.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	logins        *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec
	logouts       *prometheus.CounterVec
	refreshes     *prometheus.CounterVec

	// Retry metrics
	retryFailures *prometheus.CounterVec
	retryRuns     *prometheus.CounterVec
	retryDuration *prometheus.HistogramVec

	// Guest metrics
	transfers        *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	programs         *prometheus.CounterVec
	scripts          *prometheus.CounterVec
	scriptDuration   prometheus.Histogram

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// no-op instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Total number of network logins by endpoint and status",
			},
			[]string{"address", "status"},
		),
		loginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "login_duration_seconds",
				Help:      "Duration of dial and login in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		logouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logouts_total",
				Help:      "Total number of logouts",
			},
			[]string{"status"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_refreshes_total",
				Help:      "Total number of session liveness probes, by whether the session had expired",
			},
			[]string{"expired", "status"},
		),

		retryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempt_failures_total",
				Help:      "Total number of failed attempts per retry policy",
			},
			[]string{"policy"},
		),
		retryRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_runs_total",
				Help:      "Total number of retried operations per policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		retryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_duration_seconds",
				Help:      "Total duration of retried operations, including waits, in seconds",
				Buckets:   buckets,
			},
			[]string{"policy"},
		),

		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_transfers_total",
				Help:      "Total number of guest file transfers",
			},
			[]string{"direction", "status"},
		),
		transferBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_transfer_bytes_total",
				Help:      "Total number of bytes moved by successful guest file transfers",
			},
			[]string{"direction"},
		),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "guest_transfer_duration_seconds",
				Help:      "Duration of guest file transfers in seconds",
				Buckets:   buckets,
			},
			[]string{"direction"},
		),
		programs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_programs_started_total",
				Help:      "Total number of guest program starts",
			},
			[]string{"status"},
		),
		scripts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_scripts_total",
				Help:      "Total number of guest scripts by result (succeeded, failed, error)",
			},
			[]string{"result"},
		),
		scriptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "guest_script_duration_seconds",
				Help:      "Duration of guest scripts including transfers in seconds",
				Buckets:   buckets,
			},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"kind"},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of logged in endpoints",
			},
		),
	}

	registry.MustRegister(
		m.logins,
		m.loginDuration,
		m.logouts,
		m.refreshes,
		m.retryFailures,
		m.retryRuns,
		m.retryDuration,
		m.transfers,
		m.transferBytes,
		m.transferDuration,
		m.programs,
		m.scripts,
		m.scriptDuration,
		m.errorsByKind,
		m.activeSessions,
	)

	return m, nil
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Session Metrics

// RecordLogin records a dial and login.
func (m *Metrics) RecordLogin(address string, duration time.Duration, err error) {
	if m.logins == nil {
		return
	}
	status := statusOf(err)
	m.logins.WithLabelValues(address, status).Inc()
	m.loginDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil {
		m.activeSessions.Inc()
	}
	m.RecordError(err)
}

// RecordLogout records a logout. The session is gone either way.
func (m *Metrics) RecordLogout(err error) {
	if m.logouts == nil {
		return
	}
	m.logouts.WithLabelValues(statusOf(err)).Inc()
	m.activeSessions.Dec()
}

// RecordRefresh records a session liveness probe.
func (m *Metrics) RecordRefresh(expired bool, err error) {
	if m.refreshes == nil {
		return
	}
	m.refreshes.WithLabelValues(strconv.FormatBool(expired), statusOf(err)).Inc()
	m.RecordError(err)
}

// Retry Metrics

// RecordRetryFailure records one failed attempt of a retry policy.
func (m *Metrics) RecordRetryFailure(policy string) {
	if m.retryFailures == nil {
		return
	}
	m.retryFailures.WithLabelValues(policy).Inc()
}

// RecordRetryOutcome records the end of a retried operation.
func (m *Metrics) RecordRetryOutcome(policy, outcome string, duration time.Duration) {
	if m.retryRuns == nil {
		return
	}
	m.retryRuns.WithLabelValues(policy, outcome).Inc()
	m.retryDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// Guest Metrics

// RecordTransfer records a guest file transfer.
func (m *Metrics) RecordTransfer(direction string, bytes int64, duration time.Duration, err error) {
	if m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(direction, statusOf(err)).Inc()
	m.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
	if err == nil {
		m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
	m.RecordError(err)
}

// RecordProgramStart records a guest program start.
func (m *Metrics) RecordProgramStart(err error) {
	if m.programs == nil {
		return
	}
	m.programs.WithLabelValues(statusOf(err)).Inc()
}

// RecordScript records a guest script run; result is succeeded, failed or error.
func (m *Metrics) RecordScript(result string, duration time.Duration) {
	if m.scripts == nil {
		return
	}
	m.scripts.WithLabelValues(result).Inc()
	m.scriptDuration.Observe(duration.Seconds())
}

// Error Metrics

// RecordError counts an error by its classification. Nil errors are ignored.
func (m *Metrics) RecordError(err error) {
	if m.errorsByKind == nil || err == nil {
		return
	}
	kind := string(vim.KindOf(err))
	if kind == "" {
		kind = "unclassified"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	log.Info().
		Str("component", "metrics").
		Str("address", m.config.ListenAddress).
		Str("path", m.config.Path).
		Msg("serving metrics")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
