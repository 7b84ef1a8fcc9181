package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vmorch/pkg/guest"
	"github.com/openfroyo/vmorch/pkg/vim"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := labels[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service name",
		},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "endpoint",
		},
		{
			name:    "sampling rate",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 2 },
			wantErr: "sampling rate",
		},
		{
			name:    "event buffer",
			mutate:  func(c *Config) { c.Events.BufferSize = 0 },
			wantErr: "buffer size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newSyncTelemetry(t *testing.T) (*Metrics, *EventPublisher, *[]Event) {
	t.Helper()

	cfg := DefaultConfig()
	metrics, err := NewMetrics(cfg.Metrics)
	require.NoError(t, err)

	cfg.Events.EnableAsync = false
	events, err := NewEventPublisher(cfg.Events)
	require.NoError(t, err)

	var seen []Event
	events.Subscribe(func(e Event) { seen = append(seen, e) }, nil)
	return metrics, events, &seen
}

func TestObserverSession(t *testing.T) {
	metrics, events, seen := newSyncTelemetry(t)
	obs := NewObserver(metrics, events)

	obs.LoginCompleted("vc1", "root", 50*time.Millisecond, nil)
	obs.LoginCompleted("vc1", "root", 10*time.Millisecond, vim.NewTransportError("dial", errors.New("refused")))
	obs.SessionRefreshed("vc1", false, nil)
	obs.SessionRefreshed("vc1", true, nil)
	obs.LogoutCompleted("vc1", nil)

	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_logins_total", map[string]string{"address": "vc1", "status": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_logins_total", map[string]string{"address": "vc1", "status": "error"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_session_refreshes_total", map[string]string{"expired": "true"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_session_refreshes_total", map[string]string{"expired": "false"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_errors_by_kind_total", map[string]string{"kind": string(vim.KindTransport)}))

	var types []string
	for _, e := range *seen {
		types = append(types, e.Type)
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "vc1", e.Address)
	}
	assert.Equal(t, []string{EventTypeLogin, EventTypeLoginFailed, EventTypeRefreshed, EventTypeLogout}, types)
}

func TestObserverRetry(t *testing.T) {
	metrics, _, _ := newSyncTelemetry(t)
	obs := NewObserver(metrics, nil)

	obs.ObserveAttempt("waitState", errors.New("not yet"))
	obs.ObserveAttempt("waitState", errors.New("not yet"))
	obs.ObserveOutcome("waitState", "success", 3, time.Second)

	assert.Equal(t, 2.0, counterValue(t, metrics, "vmorch_retry_attempt_failures_total", map[string]string{"policy": "waitState"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_retry_runs_total", map[string]string{"policy": "waitState", "outcome": "success"}))
}

func TestObserverGuest(t *testing.T) {
	metrics, events, seen := newSyncTelemetry(t)
	obs := NewObserver(metrics, events)

	obs.TransferCompleted(guest.DirectionUpload, 100, time.Millisecond, nil)
	obs.TransferCompleted(guest.DirectionDownload, 0, time.Millisecond, errors.New("reset"))
	obs.ProgramStarted("/bin/sh", nil)
	obs.ScriptCompleted(guest.ScriptResult{ID: "a", ExitCode: 0})
	obs.ScriptCompleted(guest.ScriptResult{ID: "b", ExitCode: 3})
	obs.ScriptCompleted(guest.ScriptResult{ID: "c", ExitCode: -1, Err: vim.NewNotFoundError("vm-1 has no guest")})

	assert.Equal(t, 100.0, counterValue(t, metrics, "vmorch_guest_transfer_bytes_total", map[string]string{"direction": "upload"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_guest_transfers_total", map[string]string{"direction": "download", "status": "error"}))
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_guest_programs_started_total", map[string]string{"status": "ok"}))
	for _, result := range []string{"succeeded", "failed", "error"} {
		assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_guest_scripts_total", map[string]string{"result": result}), result)
	}
	assert.Equal(t, 1.0, counterValue(t, metrics, "vmorch_errors_by_kind_total", map[string]string{"kind": "unclassified"}))

	require.Len(t, *seen, 5)
	assert.Equal(t, EventTypeTransfer, (*seen)[0].Type)
	assert.Equal(t, EventTypeTransferFailed, (*seen)[1].Type)
	assert.Equal(t, EventLevelInfo, (*seen)[2].Level)
	assert.Equal(t, EventLevelWarning, (*seen)[3].Level)
	assert.Equal(t, EventLevelError, (*seen)[4].Level)
}

func TestDisabledSinksAreNoOps(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	assert.Nil(t, metrics.Registry())

	events, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)

	obs := NewObserver(metrics, events)
	assert.NotPanics(t, func() {
		obs.LoginCompleted("vc1", "root", time.Second, nil)
		obs.ObserveOutcome("p", "failed", 1, time.Second)
		obs.ScriptCompleted(guest.ScriptResult{ExitCode: 1})
	})
	assert.NoError(t, events.Shutdown(context.Background()))
}

func TestAsyncEventsAreDeliveredInOrder(t *testing.T) {
	events, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   16,
		MaxBatchSize: 4,
		EnableAsync:  true,
	})
	require.NoError(t, err)

	var got []string
	events.Subscribe(func(e Event) { got = append(got, e.Address) }, nil)

	for _, address := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, events.PublishLogout(address, nil))
	}
	require.NoError(t, events.Shutdown(context.Background()))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestEventFilters(t *testing.T) {
	login := Event{Type: EventTypeLogin, Address: "vc1", Level: EventLevelInfo}
	failed := Event{Type: EventTypeLoginFailed, Address: "vc2", Level: EventLevelError}

	assert.False(t, FilterByLevel(EventLevelWarning)(login))
	assert.True(t, FilterByLevel(EventLevelWarning)(failed))
	assert.True(t, FilterByType(EventTypeLogin, EventTypeLogout)(login))
	assert.False(t, FilterByType(EventTypeLogin)(failed))
	assert.True(t, FilterByAddress("vc2")(failed))
	assert.False(t, FilterByAddress("vc2")(login))
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "noop")
	assert.Nil(t, ic.Span)
	assert.NotNil(t, ic.Logger)
	ic.End(errors.New("ignored"))
}
