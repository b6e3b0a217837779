// Package deadletter republishes unrecoverable messages to a per-channel
// failure topic and optionally archives them in Postgres.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Archive persists dead-letter records.
type Archive interface {
	Insert(ctx context.Context, rec Record) error
}

type Router struct {
	pub     Publisher
	topics  map[notification.Channel]string
	archive Archive
	logger  *logging.Logger
	now     func() time.Time
}

// NewRouter returns a Router publishing to topics[channel]. archive may be nil.
func NewRouter(pub Publisher, topics map[notification.Channel]string, archive Archive, logger *logging.Logger) *Router {
	return &Router{pub: pub, topics: topics, archive: archive, logger: logger, now: time.Now}
}

// Route publishes e.Payload unmodified to the channel's failure topic.
// A publish failure is logged and returned; archive failures are only
// logged. Callers proceed with their own bookkeeping either way.
func (r *Router) Route(ctx context.Context, e Entry) error {
	log := r.logger.WithContext(ctx).WithRequest(e.RequestID).WithChannel(string(e.Channel)).
		WithField("reason", e.Reason)

	topic, ok := r.topics[e.Channel]
	if !ok || topic == "" {
		err := fmt.Errorf("deadletter: no failure topic for channel %q", e.Channel)
		log.WithError(err).Error("dead-letter route failed")
		return err
	}

	metrics.RecordDLQ(string(e.Channel), e.Reason)
	tracing.AddSpanEvent(ctx, "deadletter.route",
		attribute.String("topic", topic),
		attribute.String("reason", e.Reason),
	)

	var pubErr error
	if err := r.pub.Publish(topic, e.Payload); err != nil {
		pubErr = fmt.Errorf("deadletter: publish %s: %w", topic, err)
		tracing.SetSpanError(ctx, pubErr)
		log.WithError(pubErr).Error("dead-letter publish failed")
	} else {
		log.WithField("topic", topic).Info("dead-letter published")
	}

	if r.archive != nil {
		if err := r.archive.Insert(ctx, NewRecord(e, r.now())); err != nil {
			log.WithError(err).Error("dead-letter archive failed")
		}
	}
	return pubErr
}
