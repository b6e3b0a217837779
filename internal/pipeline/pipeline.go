// Package pipeline runs the per-message delivery sequence shared by every
// channel: idempotency gate, status check, render, recipient validation,
// bounded-retry dispatch and the terminal status/dead-letter decision.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_notify/internal/deadletter"
	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/provider"
	"github.com/austindbirch/harbor_notify/internal/render"
	"github.com/austindbirch/harbor_notify/internal/retry"
	"github.com/austindbirch/harbor_notify/internal/status"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

const DeliveredEventType = "notification.delivered"

type Guard interface {
	AlreadyDelivered(ctx context.Context, requestID string) (bool, error)
	MarkDelivered(ctx context.Context, requestID string, ttl time.Duration) error
}

type StatusStore interface {
	Get(ctx context.Context, requestID string) (*notification.StatusRecord, error)
	Transition(ctx context.Context, requestID string, next notification.Status, errMsg string) error
}

type Renderer interface {
	Render(ctx context.Context, c render.Content, vars map[string]any) (render.Rendered, error)
}

type DeliveryClient interface {
	Send(ctx context.Context, msg provider.Message) bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, attempt retry.Attempt) (int, error)
}

type DeadLetterRouter interface {
	Route(ctx context.Context, e deadletter.Entry) error
}

// EventPublisher is satisfied by *nsq.Producer.
type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Validator checks the channel recipient of a request.
type Validator func(r notification.Request) error

// DeliveredEvent is published to the status topic after a confirmed send.
type DeliveredEvent struct {
	Type          string    `json:"type"`
	EventID       string    `json:"event_id"`
	RequestID     string    `json:"request_id"`
	Channel       string    `json:"channel"`
	CorrelationID string    `json:"correlation_id"`
	DeliveredAt   time.Time `json:"delivered_at"`
}

type Config struct {
	Channel        notification.Channel
	IdempotencyTTL time.Duration
	StatusTopic    string // empty disables delivered events
}

// Deps are the collaborators of a Pipeline. Events may be nil.
type Deps struct {
	Guard      Guard
	Status     StatusStore
	Renderer   Renderer
	Client     DeliveryClient
	Retry      Dispatcher
	DeadLetter DeadLetterRouter
	Events     EventPublisher
	Validate   Validator
	Logger     *logging.Logger
}

type Pipeline struct {
	cfg Config
	Deps
	now func() time.Time
}

func New(cfg Config, deps Deps) *Pipeline {
	if deps.Validate == nil {
		deps.Validate = notification.ValidateRecipient
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Pipeline{cfg: cfg, Deps: deps, now: time.Now}
}

func (p *Pipeline) Channel() notification.Channel { return p.cfg.Channel }

// Process runs one request to a terminal outcome. raw is the original
// message body, republished unmodified on dead-letter. Process never
// panics: a panic at any step takes the failure branch.
func (p *Pipeline) Process(ctx context.Context, req notification.Request, raw []byte) (out Outcome) {
	start := p.now()
	ctx, span := tracing.StartSpan(ctx, "pipeline.process",
		attribute.String("request_id", req.RequestID),
		attribute.String("channel", string(p.cfg.Channel)),
		attribute.String("correlation_id", req.CorrelationID),
	)
	log := p.Logger.WithContext(ctx).WithRequest(req.RequestID).WithCorrelation(req.CorrelationID).
		WithChannel(string(p.cfg.Channel))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			tracing.SetSpanError(ctx, err)
			log.WithError(err).Error("pipeline panicked")
			p.fail(context.WithoutCancel(ctx), req, raw, deadletter.ReasonPanic, err, 0)
			out = Exhausted
		}
		span.SetAttributes(attribute.String("outcome", out.String()))
		span.End()
		metrics.RecordOutcome(string(p.cfg.Channel), out.Label(), p.now().Sub(start))
		log.WithField("outcome", out.String()).Info("message processed")
	}()

	return p.run(ctx, req, raw)
}

func (p *Pipeline) run(ctx context.Context, req notification.Request, raw []byte) Outcome {
	id := req.RequestID

	// 1. idempotency gate
	tracing.AddSpanEvent(ctx, "guard.check")
	delivered, err := p.Guard.AlreadyDelivered(ctx, id)
	if err != nil {
		return p.failUnexpected(ctx, req, raw, fmt.Errorf("idempotency check: %w", err))
	}
	if delivered {
		p.skip(ctx, id, "guard.duplicate", notification.ErrDuplicate)
		return SkippedDuplicate
	}

	// 2. status must still be queued
	rec, err := p.Status.Get(ctx, id)
	switch {
	case errors.Is(err, status.ErrNotFound):
		p.skip(ctx, id, "status.not_queued", &notification.StateError{RequestID: id})
		return SkippedNotQueued
	case err != nil:
		return p.failUnexpected(ctx, req, raw, fmt.Errorf("status read: %w", err))
	case rec.Status != notification.StatusQueued:
		p.skip(ctx, id, "status.not_queued", &notification.StateError{RequestID: id, Status: rec.Status})
		return SkippedNotQueued
	}

	// 3. claim
	if err := p.Status.Transition(ctx, id, notification.StatusSending, ""); err != nil {
		return p.failUnexpected(ctx, req, raw, fmt.Errorf("status sending: %w", err))
	}

	// 4. render
	tracing.AddSpanEvent(ctx, "render")
	content, err := p.Renderer.Render(ctx, render.ContentOf(req), req.Data)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.fail(ctx, req, raw, deadletter.ReasonRender, err, 0)
		return RenderFailed
	}

	// 5. recipient
	if err := p.Validate(req); err != nil {
		tracing.SetSpanError(ctx, err)
		p.fail(ctx, req, raw, deadletter.ReasonValidation, fmt.Errorf("invalid recipient: %w", err), 0)
		return ValidationFailed
	}

	// 6. dispatch
	msg := provider.Message{
		RequestID:     id,
		CorrelationID: req.CorrelationID,
		Recipient:     req.Recipient(),
		Subject:       content.Subject,
		Body:          content.Body,
		Data:          req.Data,
	}
	tracing.AddSpanEvent(ctx, "dispatch")
	attempts, err := p.Retry.Dispatch(ctx, func(actx context.Context) bool {
		return p.Client.Send(actx, msg)
	})
	tracing.AddSpanEvent(ctx, "dispatch.done", attribute.Int("attempts", attempts))

	// shutdown must not interrupt terminal bookkeeping
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.fail(ctx, req, raw, deadletter.ReasonExhausted, err, attempts)
		return Exhausted
	}

	p.succeed(ctx, req)
	return Delivered
}

func (p *Pipeline) skip(ctx context.Context, id, event string, err error) {
	tracing.AddSpanEvent(ctx, event)
	p.Logger.WithContext(ctx).WithRequest(id).WithChannel(string(p.cfg.Channel)).
		WithError(err).Info("skipping message")
}

func (p *Pipeline) succeed(ctx context.Context, req notification.Request) {
	log := p.Logger.WithContext(ctx).WithRequest(req.RequestID).WithChannel(string(p.cfg.Channel))

	if err := p.Status.Transition(ctx, req.RequestID, notification.StatusDelivered, ""); err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("status update to delivered failed")
	}
	if err := p.Guard.MarkDelivered(ctx, req.RequestID, p.cfg.IdempotencyTTL); err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("idempotency mark failed")
	}
	if p.Events == nil || p.cfg.StatusTopic == "" {
		return
	}
	ev := DeliveredEvent{
		Type:          DeliveredEventType,
		EventID:       uuid.NewString(),
		RequestID:     req.RequestID,
		Channel:       string(p.cfg.Channel),
		CorrelationID: req.CorrelationID,
		DeliveredAt:   p.now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err == nil {
		err = p.Events.Publish(p.cfg.StatusTopic, b)
	}
	if err != nil {
		log.WithError(err).WithField("topic", p.cfg.StatusTopic).Warn("delivered event publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "nsq.published_delivered", attribute.String("topic", p.cfg.StatusTopic))
}

func (p *Pipeline) failUnexpected(ctx context.Context, req notification.Request, raw []byte, err error) Outcome {
	tracing.SetSpanError(ctx, err)
	p.Logger.WithContext(ctx).WithRequest(req.RequestID).WithChannel(string(p.cfg.Channel)).
		WithError(err).Error("pipeline step failed")
	p.fail(context.WithoutCancel(ctx), req, raw, deadletter.ReasonError, err, 0)
	return Exhausted
}

// fail is the shared failure branch: best-effort status transition to
// failed, then a best-effort dead-letter route. Neither step can panic out.
func (p *Pipeline) fail(ctx context.Context, req notification.Request, raw []byte, reason string, cause error, attempts int) {
	log := p.Logger.WithContext(ctx).WithRequest(req.RequestID).WithChannel(string(p.cfg.Channel)).
		WithField("reason", reason)

	safely(log, "status update to failed", func() error {
		return p.Status.Transition(ctx, req.RequestID, notification.StatusFailed, cause.Error())
	})
	safely(log, "dead-letter route", func() error {
		return p.DeadLetter.Route(ctx, deadletter.Entry{
			Channel:   p.cfg.Channel,
			RequestID: req.RequestID,
			Reason:    reason,
			LastError: cause.Error(),
			Attempts:  attempts,
			Payload:   raw,
		})
	})
}

func safely(log *logging.LogEntry, step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error(step + " panicked")
		}
	}()
	if err := fn(); err != nil {
		log.WithError(err).Error(step + " failed")
	}
}
