package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/consumer"
	"github.com/austindbirch/harbor_notify/internal/db"
	"github.com/austindbirch/harbor_notify/internal/deadletter"
	"github.com/austindbirch/harbor_notify/internal/health"
	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/pipeline"
	"github.com/austindbirch/harbor_notify/internal/provider"
	"github.com/austindbirch/harbor_notify/internal/render"
	"github.com/austindbirch/harbor_notify/internal/retry"
	"github.com/austindbirch/harbor_notify/internal/status"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

const backlogInterval = 10 * time.Second

// inputTopic returns the queue a channel consumes from.
func inputTopic(cfg config.NSQ, ch notification.Channel) (string, error) {
	switch ch {
	case notification.ChannelEmail:
		return cfg.EmailTopic, nil
	case notification.ChannelPush:
		return cfg.PushTopic, nil
	}
	return "", fmt.Errorf("unknown channel %q", ch)
}

func deadLetterTopics(cfg config.NSQ) map[notification.Channel]string {
	return map[notification.Channel]string{
		notification.ChannelEmail: cfg.EmailDLQTopic,
		notification.ChannelPush:  cfg.PushDLQTopic,
	}
}

// newProviderClient builds the breaker-guarded provider client for ch.
func newProviderClient(cfg config.Config, ch notification.Channel, logger *logging.Logger) (*provider.Client, error) {
	switch ch {
	case notification.ChannelEmail:
		return provider.NewClient(provider.NewSendGrid(cfg.Email), provider.Options{
			Name:      provider.SendGridName,
			Precheck:  provider.EmailPrecheck,
			RateLimit: cfg.Email.RateLimit,
			Breaker:   cfg.Breaker,
		}, logger), nil
	case notification.ChannelPush:
		return provider.NewClient(provider.NewOneSignal(cfg.Push), provider.Options{
			Name:      provider.OneSignalName,
			Precheck:  provider.PushPrecheck,
			RateLimit: cfg.Push.RateLimit,
			Breaker:   cfg.Breaker,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown channel %q", ch)
}

// newRenderer leaves the remote unset when no template service is
// configured so the renderer never sees a typed-nil Remote.
func newRenderer(cfg config.Template, ch notification.Channel, logger *logging.Logger) *render.Renderer {
	if cfg.URL == "" {
		return render.New(ch, nil, logger)
	}
	return render.New(ch, render.NewTemplateClient(cfg.URL, cfg.Timeout), logger)
}

func statusTopic(cfg config.Config) string {
	if !cfg.Worker.PublishDelivered {
		return ""
	}
	return cfg.NSQ.StatusTopic
}

func run(parent context.Context, cfg config.Config, ch notification.Channel) error {
	service := cfg.AppName + "-" + string(ch)
	logger := logging.New(service, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	topic, err := inputTopic(cfg.NSQ, ch)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, service)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	defer rdb.Close()

	checks := []health.Checker{
		health.CheckFunc("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}

	var archive deadletter.Archive
	if cfg.DB.Enabled {
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = deadletter.NewPGArchive(pool)
		checks = append(checks, health.CheckFunc("postgres", pool.Ping))
	}

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("nsq producer: %w", err)
	}
	producer.SetLogger(consumer.NewNSQLogger(logger.Named("nsq")), nsq.LogLevelWarning)
	defer producer.Stop()
	checks = append(checks, health.CheckFunc("nsqd", func(context.Context) error { return producer.Ping() }))

	dlq := deadletter.NewRouter(producer, deadLetterTopics(cfg.NSQ), archive, logger.Named("deadletter"))

	client, err := newProviderClient(cfg, ch, logger.Named("provider"))
	if err != nil {
		return err
	}

	retrier := retry.New(ch, cfg.Worker.BackoffSchedule, nil, logger.Named("retry"))
	p := pipeline.New(pipeline.Config{
		Channel:        ch,
		IdempotencyTTL: cfg.Worker.IdempotencyTTL,
		StatusTopic:    statusTopic(cfg),
	}, pipeline.Deps{
		Guard:      status.NewGuard(rdb),
		Status:     status.NewStore(rdb, logger.Named("status")),
		Renderer:   newRenderer(cfg.Template, ch, logger.Named("render")),
		Client:     client,
		Retry:      retrier,
		DeadLetter: dlq,
		Events:     producer,
		Logger:     logger.Named("pipeline"),
	})

	// Handlers run under a context that outlives the signal so in-flight
	// messages reach a terminal decision; Stop cancels it.
	cons, err := consumer.New(context.WithoutCancel(ctx), cfg.NSQ, topic, cfg.Worker.Concurrency, p, dlq, logger)
	if err != nil {
		return err
	}

	if err := cons.Start(); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           health.NewRouter(reg, checks...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("ops HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	go consumer.NewBacklogMonitor(cfg.NSQ.NsqdHTTPAddr, []string{topic}, backlogInterval, logger.Named("backlog")).Run(ctx)

	logger.Plain().WithChannel(string(ch)).WithFields(map[string]any{
		"topic":        topic,
		"concurrency":  cfg.Worker.Concurrency,
		"max_attempts": retrier.MaxAttempts(),
	}).Info("notifier running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Plain().Info("shutdown signal received")
	case runErr = <-srvErr:
		logger.Plain().WithError(runErr).Error("ops HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := cons.Stop(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Warn("consumer did not drain before timeout")
	}
	stats := cons.Stats()
	logger.Plain().WithFields(map[string]any{
		"received": stats.MessagesReceived,
		"finished": stats.MessagesFinished,
		"requeued": stats.MessagesRequeued,
	}).Info("consumer totals")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Warn("ops HTTP server shutdown")
	}
	logger.Plain().Info("notifier stopped")
	return runErr
}
