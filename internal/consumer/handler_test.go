package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/austindbirch/harbor_notify/internal/deadletter"
	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/pipeline"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

type fakeDelegate struct {
	finished int
	requeued int
	delay    time.Duration
}

func (d *fakeDelegate) OnFinish(*nsq.Message) { d.finished++ }

func (d *fakeDelegate) OnRequeue(_ *nsq.Message, delay time.Duration, _ bool) {
	d.requeued++
	d.delay = delay
}

func (d *fakeDelegate) OnTouch(*nsq.Message) {}

func newMessage(body string) (*nsq.Message, *fakeDelegate) {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, []byte(body))
	d := &fakeDelegate{}
	m.Delegate = d
	m.Attempts = 1
	return m, d
}

type fakeProcessor struct {
	channel notification.Channel
	outcome pipeline.Outcome
	panics  bool

	mu   sync.Mutex
	reqs []notification.Request
	raws [][]byte
	ctxs []context.Context
}

func (p *fakeProcessor) Channel() notification.Channel { return p.channel }

func (p *fakeProcessor) Process(ctx context.Context, req notification.Request, raw []byte) pipeline.Outcome {
	if p.panics {
		panic("pipeline wiring bug")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	p.raws = append(p.raws, raw)
	p.ctxs = append(p.ctxs, ctx)
	return p.outcome
}

type fakeDLQ struct {
	entries []deadletter.Entry
}

func (d *fakeDLQ) Route(_ context.Context, e deadletter.Entry) error {
	d.entries = append(d.entries, e)
	return nil
}

func TestHandleMessageFinishesEveryOutcome(t *testing.T) {
	outcomes := []pipeline.Outcome{
		pipeline.SkippedDuplicate,
		pipeline.SkippedNotQueued,
		pipeline.RenderFailed,
		pipeline.ValidationFailed,
		pipeline.Delivered,
		pipeline.Exhausted,
	}
	for _, out := range outcomes {
		t.Run(out.String(), func(t *testing.T) {
			proc := &fakeProcessor{channel: notification.ChannelEmail, outcome: out}
			h := NewHandler(context.Background(), proc, &fakeDLQ{}, logging.Nop())
			body := `{"request_id":"r1","channel":"email","email":"a@b.com","body":"hi"}`
			m, d := newMessage(body)

			require.NoError(t, h.HandleMessage(m))
			assert.Equal(t, 1, d.finished)
			assert.Equal(t, 0, d.requeued)
			require.Len(t, proc.raws, 1)
			assert.Equal(t, body, string(proc.raws[0]))
		})
	}
}

func TestHandleMessageCorrelation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "header wins",
			body: `{"request_id":"r1","channel":"email","correlation_id":"payload","headers":{"correlation_id":"header"}}`,
			want: "header",
		},
		{
			name: "payload next",
			body: `{"request_id":"r1","channel":"email","correlation_id":"payload"}`,
			want: "payload",
		},
		{
			name: "defaults to request id",
			body: `{"request_id":"r1","channel":"email"}`,
			want: "r1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{channel: notification.ChannelEmail, outcome: pipeline.Delivered}
			h := NewHandler(context.Background(), proc, &fakeDLQ{}, logging.Nop())
			m, _ := newMessage(tt.body)

			require.NoError(t, h.HandleMessage(m))
			require.Len(t, proc.reqs, 1)
			assert.Equal(t, tt.want, proc.reqs[0].CorrelationID)
		})
	}
}

func TestHandleMessageRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "undecodable", body: `{not json`, reason: deadletter.ReasonUndecodable},
		{name: "missing request id", body: `{"channel":"email"}`, reason: deadletter.ReasonValidation},
		{name: "unknown channel", body: `{"request_id":"r1","channel":"sms"}`, reason: deadletter.ReasonValidation},
		{name: "wrong channel", body: `{"request_id":"r1","channel":"push","push_token":"abcdef"}`, reason: deadletter.ReasonValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{channel: notification.ChannelEmail}
			dlq := &fakeDLQ{}
			h := NewHandler(context.Background(), proc, dlq, logging.Nop())
			m, d := newMessage(tt.body)

			require.NoError(t, h.HandleMessage(m))
			assert.Equal(t, 1, d.finished)
			assert.Empty(t, proc.reqs, "pipeline must not run")
			require.Len(t, dlq.entries, 1)
			assert.Equal(t, tt.reason, dlq.entries[0].Reason)
			assert.Equal(t, notification.ChannelEmail, dlq.entries[0].Channel)
			assert.Equal(t, tt.body, string(dlq.entries[0].Payload))
		})
	}
}

func TestHandleMessageCrashRequeues(t *testing.T) {
	proc := &fakeProcessor{channel: notification.ChannelEmail, panics: true}
	h := NewHandler(context.Background(), proc, &fakeDLQ{}, logging.Nop())
	m, d := newMessage(`{"request_id":"r1","channel":"email"}`)

	assert.NotPanics(t, func() { _ = h.HandleMessage(m) })
	assert.Equal(t, 0, d.finished)
	assert.Equal(t, 1, d.requeued)
	assert.Equal(t, time.Duration(-1), d.delay)
}

func TestHandleMessageExtractsTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer func() { _ = tp.Shutdown(context.Background()) }()

	upstream, span := tracing.StartSpan(context.Background(), "gateway.publish")
	headers := tracing.InjectHeaders(upstream, nil)
	span.End()

	proc := &fakeProcessor{channel: notification.ChannelEmail, outcome: pipeline.Delivered}
	h := NewHandler(context.Background(), proc, &fakeDLQ{}, logging.Nop())
	body := `{"request_id":"r1","channel":"email","headers":{"traceparent":"` + headers["traceparent"] + `"}}`
	m, _ := newMessage(body)

	require.NoError(t, h.HandleMessage(m))
	require.Len(t, proc.ctxs, 1)
	assert.Equal(t, tracing.GetTraceID(upstream), tracing.GetTraceID(proc.ctxs[0]))
}

func TestHandlerUsesBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &fakeProcessor{channel: notification.ChannelEmail, outcome: pipeline.Exhausted}
	h := NewHandler(base, proc, &fakeDLQ{}, logging.Nop())
	m, d := newMessage(`{"request_id":"r1","channel":"email"}`)

	require.NoError(t, h.HandleMessage(m))
	require.Len(t, proc.ctxs, 1)
	assert.ErrorIs(t, proc.ctxs[0].Err(), context.Canceled, "shutdown propagates to the pipeline")
	assert.Equal(t, 1, d.finished)
}

func TestLogFailedMessage(t *testing.T) {
	proc := &fakeProcessor{channel: notification.ChannelPush}
	dlq := &fakeDLQ{}
	h := NewHandler(context.Background(), proc, dlq, logging.Nop())

	body := `{"request_id":"p1","channel":"push","push_token":"abcdef"}`
	m, _ := newMessage(body)
	m.Attempts = 6

	h.LogFailedMessage(m)

	require.Len(t, dlq.entries, 1)
	e := dlq.entries[0]
	assert.Equal(t, deadletter.ReasonMaxAttempts, e.Reason)
	assert.Equal(t, "p1", e.RequestID)
	assert.Equal(t, 6, e.Attempts)
	assert.Equal(t, body, string(e.Payload))
	assert.Empty(t, proc.reqs)
}

func TestHandlerImplementsNSQInterfaces(t *testing.T) {
	var h any = &Handler{}
	_, isHandler := h.(nsq.Handler)
	_, isLogger := h.(nsq.FailedMessageLogger)
	assert.True(t, isHandler)
	assert.True(t, isLogger)
}
