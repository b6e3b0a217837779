package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total number of processed notification messages by terminal outcome.",
		},
		[]string{"channel", "outcome"}, // delivered, exhausted, skipped_duplicate, ...
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_delivery_attempts_total",
			Help: "Total number of provider send attempts by result.",
		},
		[]string{"channel", "result"}, // ok, failed, panic
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_delivery_latency_seconds",
			Help:    "Time from dequeue to terminal decision.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"channel"},
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dlq_total",
			Help: "Total number of messages routed to a failure topic.",
		},
		[]string{"channel", "reason"},
	)

	RenderFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_render_fallback_total",
			Help: "Total number of renders that fell back to local substitution.",
		},
		[]string{"channel"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"provider"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DeliveriesTotal,
		AttemptsTotal,
		DeliveryLatencySeconds,
		DLQTotal,
		RenderFallbackTotal,
		BreakerState,
		QueueDepth,
	)
}

// RecordOutcome counts a terminal pipeline outcome and its latency.
func RecordOutcome(channel, outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(channel, outcome).Inc()
	DeliveryLatencySeconds.WithLabelValues(channel).Observe(latency.Seconds())
}

func RecordAttempt(channel, result string) {
	AttemptsTotal.WithLabelValues(channel, result).Inc()
}

func RecordDLQ(channel, reason string) {
	DLQTotal.WithLabelValues(channel, reason).Inc()
}

func RecordRenderFallback(channel string) {
	RenderFallbackTotal.WithLabelValues(channel).Inc()
}

func SetBreakerState(provider string, state float64) {
	BreakerState.WithLabelValues(provider).Set(state)
}

func UpdateQueueDepth(topic, channel string, depth float64) {
	QueueDepth.WithLabelValues(topic, channel).Set(depth)
}
