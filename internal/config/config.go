package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. NOTIFY_REDIS_ADDR.
const EnvPrefix = "NOTIFY"

type DB struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Name string `mapstructure:"name"`
	// Enabled turns on the dead-letter archive and its readiness check.
	Enabled  bool  `mapstructure:"enabled"`
	MaxConns int32 `mapstructure:"max_conns"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NSQ struct {
	NsqdTCPAddr    string `mapstructure:"nsqd_tcp_addr"`    // e.g. nsqd:4150
	NsqdHTTPAddr   string `mapstructure:"nsqd_http_addr"`   // e.g. nsqd:4151, used for backlog stats
	LookupHTTPAddr string `mapstructure:"lookup_http_addr"` // e.g. http://nsqlookupd:4161
	ConsumerName   string `mapstructure:"consumer_channel"` // NSQ channel shared by notifier workers
	EmailTopic     string `mapstructure:"email_topic"`
	PushTopic      string `mapstructure:"push_topic"`
	EmailDLQTopic  string `mapstructure:"email_dlq_topic"`
	PushDLQTopic   string `mapstructure:"push_dlq_topic"`
	StatusTopic    string `mapstructure:"status_topic"`    // delivered events
	MaxAttempts    uint16 `mapstructure:"max_attempts"`    // broker-level redeliveries before giving up
	MaxInFlight    int    `mapstructure:"max_in_flight"`   // prefetch bound
}

type Worker struct {
	Concurrency      int             `mapstructure:"concurrency"` // handler goroutines per consumer
	BackoffSchedule  []time.Duration `mapstructure:"-"`
	IdempotencyTTL   time.Duration   `mapstructure:"idempotency_ttl"`
	PublishDelivered bool            `mapstructure:"publish_delivered"`
	ShutdownTimeout  time.Duration   `mapstructure:"shutdown_timeout"`
}

type Breaker struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`      // probes allowed while half-open
	Interval         time.Duration `mapstructure:"interval"`          // closed-state counter reset
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`      // open → half-open
	FailureThreshold uint32        `mapstructure:"failure_threshold"` // consecutive failures to trip
}

type Template struct {
	URL     string        `mapstructure:"url"` // empty disables the remote renderer
	Timeout time.Duration `mapstructure:"timeout"`
}

type Email struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	FromEmail string        `mapstructure:"from_email"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"` // sends per second, 0 = unlimited
}

type Push struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	AppID     string        `mapstructure:"app_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

type Config struct {
	AppName  string   `mapstructure:"app_name"`
	HTTPPort string   `mapstructure:"http_port"` // :8083
	LogLevel string   `mapstructure:"log_level"`
	DB       DB       `mapstructure:"db"`
	Redis    Redis    `mapstructure:"redis"`
	NSQ      NSQ      `mapstructure:"nsq"`
	Worker   Worker   `mapstructure:"worker"`
	Breaker  Breaker  `mapstructure:"breaker"`
	Template Template `mapstructure:"template"`
	Email    Email    `mapstructure:"email"`
	Push     Push     `mapstructure:"push"`
}

// DefaultBackoff is the fixed delay before attempts 1, 2 and 3.
var DefaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "harbor-notify")
	v.SetDefault("http_port", ":8083")
	v.SetDefault("log_level", "info")

	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.pass", "postgres")
	v.SetDefault("db.host", "postgres")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.name", "harbornotify")
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.max_conns", 10)

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 2*time.Second)

	v.SetDefault("nsq.nsqd_tcp_addr", "nsqd:4150")
	v.SetDefault("nsq.nsqd_http_addr", "nsqd:4151")
	v.SetDefault("nsq.lookup_http_addr", "http://nsqlookupd:4161")
	v.SetDefault("nsq.consumer_channel", "notifier")
	v.SetDefault("nsq.email_topic", "email.queue")
	v.SetDefault("nsq.push_topic", "push.queue")
	v.SetDefault("nsq.email_dlq_topic", "email.failed")
	v.SetDefault("nsq.push_dlq_topic", "push.failed")
	v.SetDefault("nsq.status_topic", "notification.status")
	v.SetDefault("nsq.max_attempts", 5)
	v.SetDefault("nsq.max_in_flight", 10)

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.backoff_schedule", "2s,4s,8s")
	v.SetDefault("worker.idempotency_ttl", 7*24*time.Hour)
	v.SetDefault("worker.publish_delivered", true)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)

	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", 60*time.Second)
	v.SetDefault("breaker.open_timeout", 30*time.Second)
	v.SetDefault("breaker.failure_threshold", 5)

	v.SetDefault("template.url", "")
	v.SetDefault("template.timeout", 5*time.Second)

	v.SetDefault("email.base_url", "https://api.sendgrid.com")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_email", "no-reply@example.com")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.rate_limit", 0)

	v.SetDefault("push.base_url", "https://onesignal.com/api/v1")
	v.SetDefault("push.api_key", "")
	v.SetDefault("push.app_id", "")
	v.SetDefault("push.timeout", 10*time.Second)
	v.SetDefault("push.rate_limit", 0)
}

// parseBackoffSchedule parses a comma-separated list of delays. An empty
// schedule means DefaultBackoff; any unparsable or negative entry is an
// error, since dropping it would silently shorten the retry budget.
func parseBackoffSchedule(schedule string) ([]time.Duration, error) {
	if strings.TrimSpace(schedule) == "" {
		return append([]time.Duration(nil), DefaultBackoff...), nil
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for i, part := range parts {
		part = strings.TrimSpace(part)
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("worker.backoff_schedule entry %d %q: %w", i, part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("worker.backoff_schedule entry %d %q: negative delay", i, part)
		}
		durations = append(durations, d)
	}
	return durations, nil
}

// Load reads defaults, then the optional config file at path, then
// NOTIFY_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	schedule, err := parseBackoffSchedule(v.GetString("worker.backoff_schedule"))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Worker.BackoffSchedule = schedule

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if c.NSQ.MaxInFlight < 1 {
		errs = append(errs, errors.New("nsq.max_in_flight must be at least 1"))
	}
	if c.Worker.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("worker.idempotency_ttl must be positive"))
	}
	if c.Breaker.FailureThreshold == 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
