package consumer

import (
	"strings"

	"github.com/austindbirch/harbor_notify/internal/logging"
)

// NSQLogger routes go-nsq's internal log lines through the service logger.
type NSQLogger struct {
	logger *logging.Logger
}

func NewNSQLogger(logger *logging.Logger) *NSQLogger {
	return &NSQLogger{logger: logger}
}

// Output implements the go-nsq logger interface. Lines arrive prefixed
// with their level ("WRN    1 [topic/channel] ...").
func (l *NSQLogger) Output(_ int, s string) error {
	entry := l.logger.Plain()
	switch {
	case strings.HasPrefix(s, "ERR"):
		entry.Error(s)
	case strings.HasPrefix(s, "WRN"):
		entry.Warn(s)
	case strings.HasPrefix(s, "DBG"):
		entry.Debug(s)
	default:
		entry.Info(s)
	}
	return nil
}
