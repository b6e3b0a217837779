// Package provider adapts third-party delivery providers (SendGrid for
// email, OneSignal for push) to a single boolean send contract guarded by
// a circuit breaker.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
)

// Message is one provider send.
type Message struct {
	RequestID     string
	CorrelationID string
	Recipient     string // email address or push token
	Subject       string
	Body          string
	Data          map[string]any
}

// Sender performs a single provider call and reports why it failed.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// Precheck rejects a message before any network call is made.
type Precheck func(msg Message) error

// Client wraps a Sender with a precheck, an optional rate limit and a
// circuit breaker. Send never panics and never returns an error.
type Client struct {
	name     string
	sender   Sender
	precheck Precheck
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *logging.Logger
}

// Options configure a Client.
type Options struct {
	Name      string
	Precheck  Precheck
	RateLimit int // sends per second, 0 disables
	Breaker   config.Breaker
}

func NewClient(sender Sender, opts Options, logger *logging.Logger) *Client {
	c := &Client{
		name:     opts.Name,
		sender:   sender,
		precheck: opts.Precheck,
		logger:   logger,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	threshold := opts.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.Breaker.MaxRequests,
		Interval:    opts.Breaker.Interval,
		Timeout:     opts.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, breakerValue(to))
			logger.WithFields(map[string]any{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	metrics.SetBreakerState(opts.Name, breakerValue(gobreaker.StateClosed))
	return c
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Name returns the provider name used for metrics and logs.
func (c *Client) Name() string { return c.name }

// State returns the current breaker state.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Send attempts one delivery. It returns true only when the provider
// accepted the message.
func (c *Client) Send(ctx context.Context, msg Message) (ok bool) {
	log := c.logger.WithContext(ctx).WithRequest(msg.RequestID).WithCorrelation(msg.CorrelationID).
		WithField("provider", c.name)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("provider call panicked")
			ok = false
		}
	}()

	if c.precheck != nil {
		if err := c.precheck(msg); err != nil {
			log.WithError(err).Warn("message rejected before send")
			return false
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			log.WithError(err).Warn("rate limiter wait aborted")
			return false
		}
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.sender.Deliver(ctx, msg)
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.WithError(err).Warn("circuit breaker rejected send")
	default:
		log.WithError(err).Warn("provider send failed")
	}
	return false
}
