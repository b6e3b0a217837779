// Package retry runs a delivery attempt under a fixed backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

// ErrExhausted is wrapped in the TransientDeliveryError returned when every
// attempt failed.
var ErrExhausted = errors.New("all delivery attempts failed")

// Sleeper suspends the calling goroutine. It returns ctx.Err() if ctx is
// done before d elapses.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt performs one send and reports acceptance.
type Attempt func(ctx context.Context) bool

// Controller drives up to len(backoff)+1 attempts. Attempt 0 runs
// immediately; attempt i waits backoff[i-1] first.
type Controller struct {
	channel notification.Channel
	backoff []time.Duration
	sleeper Sleeper
	logger  *logging.Logger
}

// New returns a Controller. A nil sleeper uses a real timer.
func New(channel notification.Channel, backoff []time.Duration, sleeper Sleeper, logger *logging.Logger) *Controller {
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	return &Controller{
		channel: channel,
		backoff: append([]time.Duration(nil), backoff...),
		sleeper: sleeper,
		logger:  logger,
	}
}

// MaxAttempts is the total number of attempts per dispatch.
func (c *Controller) MaxAttempts() int { return len(c.backoff) + 1 }

// Dispatch runs attempt until it returns true or the schedule is spent.
// Cancelling ctx interrupts a backoff sleep, which ends the loop as a
// failure; an attempt already in progress is never cancelled. The
// returned error is nil on success and a *notification.TransientDeliveryError
// otherwise.
func (c *Controller) Dispatch(ctx context.Context, attempt Attempt) (int, error) {
	log := c.logger.WithContext(ctx).WithChannel(string(c.channel))
	attemptCtx := context.WithoutCancel(ctx)

	for i := 0; i < c.MaxAttempts(); i++ {
		if i > 0 {
			delay := c.backoff[i-1]
			tracing.AddSpanEvent(ctx, "retry.backoff",
				attribute.Int("attempt", i),
				attribute.String("delay", delay.String()),
			)
			log.WithFields(map[string]any{"attempt": i, "delay": delay.String()}).Info("retrying delivery")
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				log.WithError(err).WithField("attempt", i).Warn("backoff interrupted, giving up")
				return i, &notification.TransientDeliveryError{Attempts: i, Err: err}
			}
		}

		if c.try(attemptCtx, i, attempt) {
			metrics.RecordAttempt(string(c.channel), "ok")
			return i + 1, nil
		}
	}
	return c.MaxAttempts(), &notification.TransientDeliveryError{Attempts: c.MaxAttempts(), Err: ErrExhausted}
}

// try runs one attempt, counting a panic as a failure.
func (c *Controller) try(ctx context.Context, i int, attempt Attempt) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithContext(ctx).WithChannel(string(c.channel)).
				WithFields(map[string]any{"attempt": i, "panic": fmt.Sprint(r)}).
				Error("delivery attempt panicked")
			metrics.RecordAttempt(string(c.channel), "panic")
			ok = false
		}
	}()
	if attempt(ctx) {
		return true
	}
	metrics.RecordAttempt(string(c.channel), "failed")
	return false
}
