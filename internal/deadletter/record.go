package deadletter

import (
	"time"

	"github.com/austindbirch/harbor_notify/internal/notification"
)

const RecordType = "notification.dead_letter"

// Reasons a message is dead-lettered.
const (
	ReasonValidation  = "validation_failed"
	ReasonRender      = "render_failed"
	ReasonExhausted   = "exhausted"
	ReasonPanic       = "panic"
	ReasonError       = "error"
	ReasonUndecodable = "undecodable"
	ReasonMaxAttempts = "broker_max_attempts"
)

// Entry describes one message to dead-letter. Payload is the original
// message body and is republished byte for byte.
type Entry struct {
	Channel   notification.Channel
	RequestID string
	Reason    string
	LastError string
	Attempts  int
	Payload   []byte
}

// Record is the archived form of an Entry.
type Record struct {
	Type      string    `json:"type"`    // "notification.dead_letter"
	Version   string    `json:"version"` // schema version
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Channel   string    `json:"channel"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Payload   []byte    `json:"-"`
}

func NewRecord(e Entry, at time.Time) Record {
	return Record{
		Type:      RecordType,
		Version:   "v1",
		At:        at.UTC(),
		RequestID: e.RequestID,
		Channel:   string(e.Channel),
		Reason:    e.Reason,
		Attempts:  e.Attempts,
		LastError: e.LastError,
		Payload:   e.Payload,
	}
}
