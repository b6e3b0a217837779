package notification

import "time"

// Status is the lifecycle state of a request in the status store.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// StatusRecord is the value stored under "status:<request_id>".
// ExpiresAt is absolute; the record is never kept past it.
type StatusRecord struct {
	Status       Status    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
	ErrorMessage *string   `json:"error_message"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Remaining returns the TTL left on the record relative to now.
func (r StatusRecord) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// Terminal reports whether the record can no longer be mutated.
func (r StatusRecord) Terminal() bool {
	return r.Status == StatusDelivered
}
