package object

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/vim"
)

// StateError is the property value that stops WaitState with a remote task
// error instead of polling on.
const StateError = "error"

// PollTuning controls how WaitState derives its defaults.
type PollTuning struct {
	// Divisor splits the timeout into poll intervals.
	Divisor int `yaml:"divisor" validate:"omitempty,min=1"`

	// MinInterval is the floor of the derived interval.
	MinInterval time.Duration `yaml:"min_interval"`

	// DefaultTimeout replaces a missing timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// TaskSettle is the pause between starting a task and the first read of
	// its state.
	TaskSettle time.Duration `yaml:"task_settle"`

	// TaskTimeout bounds waits on long running tasks such as destroy and
	// snapshot.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// DefaultPollTuning polls sixty times per timeout with a ten second floor and
// waits an hour when no timeout is given.
func DefaultPollTuning() PollTuning {
	return PollTuning{
		Divisor:        60,
		MinInterval:    10 * time.Second,
		DefaultTimeout: time.Hour,
		TaskSettle:     time.Second,
		TaskTimeout:    30 * time.Minute,
	}
}

func (t PollTuning) withDefaults() PollTuning {
	d := DefaultPollTuning()
	if t.Divisor <= 0 {
		t.Divisor = d.Divisor
	}
	if t.MinInterval <= 0 {
		t.MinInterval = d.MinInterval
	}
	if t.DefaultTimeout <= 0 {
		t.DefaultTimeout = d.DefaultTimeout
	}
	if t.TaskSettle <= 0 {
		t.TaskSettle = d.TaskSettle
	}
	if t.TaskTimeout <= 0 {
		t.TaskTimeout = d.TaskTimeout
	}
	return t
}

// Interval derives the poll interval for a timeout.
func (t PollTuning) Interval(timeout time.Duration) time.Duration {
	t = t.withDefaults()
	interval := timeout / time.Duration(t.Divisor)
	if interval < t.MinInterval {
		interval = t.MinInterval
	}
	return interval
}

var tracer = otel.Tracer("github.com/openfroyo/vmorch/pkg/object")

var errStateError = errors.New("property reached error state")

type stateMismatch struct {
	path   string
	got    any
	target any
}

func (e *stateMismatch) Error() string {
	return fmt.Sprintf("%s is %v, waiting for %v", e.path, e.got, e.target)
}

// WaitState implements Proxy.
//
// Read failures and mismatching values are retried until the timeout. A
// value equal to StateError (when the target is something else) stops the
// wait; the object's "info" property is then read and returned as the
// payload of a remote task error. A non-positive timeout falls back to the
// registry's default, a non-positive interval is derived from the timeout.
func (c *Common) WaitState(ctx context.Context, path string, target any, timeout, interval time.Duration) error {
	ctx, span := tracer.Start(ctx, "object.waitState", trace.WithAttributes(
		attribute.String("vsphere.object", c.ref.String()),
		attribute.String("object.path", path),
		attribute.String("object.target", fmt.Sprint(target)),
	))
	defer span.End()

	err := c.waitState(ctx, path, target, timeout, interval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Common) waitState(ctx context.Context, path string, target any, timeout, interval time.Duration) error {
	tuning := c.registry.Tuning()
	if timeout <= 0 {
		log.Warn().
			Str("component", "object").
			Str("object", c.ref.String()).
			Str("path", path).
			Dur("timeout", tuning.DefaultTimeout).
			Msg("waitState called without a timeout, using default")
		timeout = tuning.DefaultTimeout
	}
	if interval <= 0 {
		interval = tuning.Interval(timeout)
	}

	watchError := !vim.Equal(target, StateError)
	policy := retry.Policy{
		Name:     "waitState",
		Timeout:  timeout,
		Interval: interval,
		Retryable: func(err error) bool {
			return !errors.Is(err, errStateError)
		},
	}

	start := time.Now()
	err := retry.Run(ctx, policy, func(ctx context.Context) error {
		v, err := c.GetRaw(ctx, path)
		if err != nil {
			return err
		}
		if vim.Equal(v, target) {
			return nil
		}
		if watchError && vim.Equal(v, StateError) {
			return errStateError
		}
		return &stateMismatch{path: path, got: v, target: target}
	})

	if err == nil {
		log.Debug().
			Str("component", "object").
			Str("object", c.ref.String()).
			Str("path", path).
			Dur("elapsed", time.Since(start)).
			Msg("state reached")
		return nil
	}

	if errors.Is(err, errStateError) {
		info, infoErr := c.GetRaw(ctx, "info")
		if infoErr != nil {
			log.Warn().
				Str("component", "object").
				Str("object", c.ref.String()).
				Err(infoErr).
				Msg("failed to read info of failed object")
		}
		return vim.NewRemoteTaskError(fmt.Sprintf("%s reached state %q", path, StateError), info).
			WithObject(c.ref).
			WithOp("waitState")
	}

	var verr *vim.Error
	if errors.As(err, &verr) && verr.Object.IsZero() {
		verr.WithObject(c.ref)
	}
	return err
}
