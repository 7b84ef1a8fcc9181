package telemetry

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/guest"
	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/session"
)

// Observer turns session, retry and guest lifecycle callbacks into metrics
// and events. Either sink may be nil.
type Observer struct {
	metrics *Metrics
	events  *EventPublisher
}

var (
	_ session.Observer = (*Observer)(nil)
	_ retry.Observer   = (*Observer)(nil)
	_ guest.Observer   = (*Observer)(nil)
)

// NewObserver creates an observer writing to metrics and events.
func NewObserver(metrics *Metrics, events *EventPublisher) *Observer {
	return &Observer{metrics: metrics, events: events}
}

func (o *Observer) publish(err error) {
	if err != nil {
		log.Debug().Str("component", "telemetry").Err(err).Msg("event not published")
	}
}

// LoginCompleted implements session.Observer.
func (o *Observer) LoginCompleted(address, user string, duration time.Duration, err error) {
	if o.metrics != nil {
		o.metrics.RecordLogin(address, duration, err)
	}
	if o.events != nil {
		o.publish(o.events.PublishLogin(address, user, duration, err))
	}
}

// LogoutCompleted implements session.Observer.
func (o *Observer) LogoutCompleted(address string, err error) {
	if o.metrics != nil {
		o.metrics.RecordLogout(err)
	}
	if o.events != nil {
		o.publish(o.events.PublishLogout(address, err))
	}
}

// SessionRefreshed implements session.Observer. Only expired sessions are
// published as events.
func (o *Observer) SessionRefreshed(address string, expired bool, err error) {
	if o.metrics != nil {
		o.metrics.RecordRefresh(expired, err)
	}
	if o.events != nil && expired {
		o.publish(o.events.PublishRefreshed(address, err))
	}
}

// ObserveAttempt implements retry.Observer.
func (o *Observer) ObserveAttempt(policy string, err error) {
	if o.metrics != nil {
		o.metrics.RecordRetryFailure(policy)
	}
}

// ObserveOutcome implements retry.Observer.
func (o *Observer) ObserveOutcome(policy, outcome string, attempts int, elapsed time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordRetryOutcome(policy, outcome, elapsed)
	}
}

// TransferCompleted implements guest.Observer.
func (o *Observer) TransferCompleted(direction string, bytes int64, duration time.Duration, err error) {
	if o.metrics != nil {
		o.metrics.RecordTransfer(direction, bytes, duration, err)
	}
	if o.events != nil {
		o.publish(o.events.PublishTransfer(direction, bytes, duration, err))
	}
}

// ProgramStarted implements guest.Observer.
func (o *Observer) ProgramStarted(path string, err error) {
	if o.metrics != nil {
		o.metrics.RecordProgramStart(err)
	}
}

// ScriptCompleted implements guest.Observer.
func (o *Observer) ScriptCompleted(result guest.ScriptResult) {
	if o.metrics != nil {
		status := "succeeded"
		switch {
		case result.Err != nil:
			status = "error"
		case result.ExitCode != 0:
			status = "failed"
		}
		o.metrics.RecordScript(status, result.Duration)
		o.metrics.RecordError(result.Err)
	}
	if o.events != nil {
		o.publish(o.events.PublishScriptFinished(result.ID, result.ExitCode, result.Duration, result.Err))
	}
}
