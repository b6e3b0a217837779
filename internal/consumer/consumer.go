package consumer

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/logging"
)

// Consumer owns one nsq.Consumer and the context its handlers run under.
type Consumer struct {
	topic   string
	channel string
	nsq     *nsq.Consumer
	cancel  context.CancelFunc
	cfg     config.NSQ
	logger  *logging.Logger
}

// New creates a consumer on topic with one handler goroutine per in-flight
// message, up to concurrency.
func New(parent context.Context, cfg config.NSQ, topic string, concurrency int, processor Processor, dlq DeadLetterRouter, logger *logging.Logger) (*Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.MaxInFlight
	conf.MaxAttempts = cfg.MaxAttempts

	nc, err := nsq.NewConsumer(topic, cfg.ConsumerName, conf)
	if err != nil {
		return nil, fmt.Errorf("consumer: create %s/%s: %w", topic, cfg.ConsumerName, err)
	}
	nc.SetLogger(NewNSQLogger(logger.Named("nsq")), nsq.LogLevelWarning)

	base, cancel := context.WithCancel(parent)
	nc.AddConcurrentHandlers(NewHandler(base, processor, dlq, logger.Named("consumer")), concurrency)

	return &Consumer{
		topic:   topic,
		channel: cfg.ConsumerName,
		nsq:     nc,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Start connects to nsqd directly, which creates the channel eagerly, and
// then to lookupd for discovery when configured.
func (c *Consumer) Start() error {
	if err := c.nsq.ConnectToNSQD(c.cfg.NsqdTCPAddr); err != nil {
		return fmt.Errorf("consumer: connect nsqd %s: %w", c.cfg.NsqdTCPAddr, err)
	}
	if c.cfg.LookupHTTPAddr != "" {
		if err := c.nsq.ConnectToNSQLookupd(c.cfg.LookupHTTPAddr); err != nil {
			return fmt.Errorf("consumer: connect lookupd %s: %w", c.cfg.LookupHTTPAddr, err)
		}
	}
	c.logger.WithFields(map[string]any{"topic": c.topic, "channel": c.channel}).Info("consumer started")
	return nil
}

// Stop stops intake, interrupts backoff sleeps and waits for in-flight
// handlers to finish their terminal bookkeeping, or for ctx to expire.
func (c *Consumer) Stop(ctx context.Context) error {
	c.nsq.Stop()
	c.cancel()
	select {
	case <-c.nsq.StopChan:
		c.logger.Plain().WithField("topic", c.topic).Info("consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer: stop %s: %w", c.topic, ctx.Err())
	}
}

// Stats exposes the go-nsq consumer counters.
func (c *Consumer) Stats() *nsq.ConsumerStats { return c.nsq.Stats() }
