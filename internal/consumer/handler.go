// Package consumer binds a delivery pipeline to an NSQ topic and turns
// pipeline outcomes into Finish (ack) or Requeue (nack).
package consumer

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_notify/internal/deadletter"
	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/pipeline"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

// Processor is satisfied by *pipeline.Pipeline.
type Processor interface {
	Channel() notification.Channel
	Process(ctx context.Context, req notification.Request, raw []byte) pipeline.Outcome
}

type DeadLetterRouter interface {
	Route(ctx context.Context, e deadletter.Entry) error
}

// Handler is an nsq.Handler and nsq.FailedMessageLogger.
type Handler struct {
	base      context.Context
	processor Processor
	dlq       DeadLetterRouter
	logger    *logging.Logger
}

// NewHandler returns a handler whose pipelines run under base. Cancelling
// base interrupts backoff sleeps of in-flight messages.
func NewHandler(base context.Context, processor Processor, dlq DeadLetterRouter, logger *logging.Logger) *Handler {
	return &Handler{base: base, processor: processor, dlq: dlq, logger: logger}
}

// HandleMessage always responds explicitly. Every pipeline outcome is a
// Finish; only a crash before a terminal decision is a Requeue.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	channel := h.processor.Channel()
	log := h.logger.Plain().WithChannel(string(channel)).WithFields(map[string]any{
		"message_id": string(m.ID[:]),
		"attempts":   m.Attempts,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("handler crashed, requeueing")
			if !m.HasResponded() {
				m.Requeue(-1)
			}
		}
	}()

	env, err := notification.Decode(m.Body)
	if err != nil {
		reason := deadletter.ReasonUndecodable
		if notification.IsValidation(err) {
			reason = deadletter.ReasonValidation
		}
		log.WithError(err).WithField("reason", reason).Error("rejecting message")
		_ = h.dlq.Route(h.base, deadletter.Entry{
			Channel:   channel,
			Reason:    reason,
			LastError: err.Error(),
			Payload:   m.Body,
		})
		m.Finish()
		return nil
	}
	if env.Channel != channel {
		err := &notification.ValidationError{Field: "channel", Reason: fmt.Sprintf("%s message on %s consumer", env.Channel, channel)}
		log.WithRequest(env.RequestID).WithError(err).Error("rejecting message")
		_ = h.dlq.Route(h.base, deadletter.Entry{
			Channel:   channel,
			RequestID: env.RequestID,
			Reason:    deadletter.ReasonValidation,
			LastError: err.Error(),
			Payload:   m.Body,
		})
		m.Finish()
		return nil
	}

	ctx := tracing.ExtractHeaders(h.base, env.Headers)
	ctx, span := tracing.StartSpan(ctx, "consumer.message",
		attribute.String("request_id", env.RequestID),
		attribute.Int("nsq.attempts", int(m.Attempts)),
	)
	defer span.End()

	out := h.processor.Process(ctx, env.Request, m.Body)
	span.SetAttributes(attribute.String("outcome", out.String()))
	m.Finish()
	return nil
}

// LogFailedMessage is called by go-nsq instead of HandleMessage once a
// message exceeds the consumer's MaxAttempts. The message is dead-lettered
// and go-nsq finishes it.
func (h *Handler) LogFailedMessage(m *nsq.Message) {
	channel := h.processor.Channel()
	entry := deadletter.Entry{
		Channel:   channel,
		Reason:    deadletter.ReasonMaxAttempts,
		LastError: fmt.Sprintf("gave up after %d broker attempts", m.Attempts),
		Attempts:  int(m.Attempts),
		Payload:   m.Body,
	}
	if env, err := notification.Decode(m.Body); err == nil {
		entry.RequestID = env.RequestID
	}
	h.logger.Plain().WithChannel(string(channel)).WithRequest(entry.RequestID).
		WithField("attempts", m.Attempts).Warn("message exceeded broker attempts")
	_ = h.dlq.Route(context.WithoutCancel(h.base), entry)
}
