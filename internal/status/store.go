// Package status holds the Redis-backed request lifecycle record and the
// idempotency marker consulted by the delivery pipeline.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/notification"
)

const statusKeyPrefix = "status:"

// ErrNotFound is returned by Get when no record exists for the request.
var ErrNotFound = errors.New("status record not found")

func statusKey(requestID string) string { return statusKeyPrefix + requestID }

// Store reads and rewrites StatusRecords. It never creates a record: the
// upstream producer writes the initial queued state.
type Store struct {
	client redis.Cmdable
	logger *logging.Logger
	now    func() time.Time
}

// NewStore returns a Store over the given Redis client. The caller owns
// the client lifecycle.
func NewStore(client redis.Cmdable, logger *logging.Logger) *Store {
	return &Store{client: client, logger: logger, now: time.Now}
}

// Get returns the current record or ErrNotFound.
func (s *Store) Get(ctx context.Context, requestID string) (*notification.StatusRecord, error) {
	raw, err := s.client.Get(ctx, statusKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("status: get %s: %w", requestID, err)
	}
	var rec notification.StatusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("status: decode %s: %w", requestID, err)
	}
	return &rec, nil
}

// Transition rewrites the record with a new status, keeping its original
// expiry. Missing, expired and already-delivered records are left alone.
// errMsg is stored only for the failed status; other statuses clear it.
func (s *Store) Transition(ctx context.Context, requestID string, next notification.Status, errMsg string) error {
	rec, err := s.Get(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		s.logger.WithContext(ctx).WithRequest(requestID).WithField("status", next).
			Warn("status transition skipped: record not found")
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	remaining := rec.Remaining(now)
	if remaining <= 0 {
		s.logger.WithContext(ctx).WithRequest(requestID).WithField("status", next).
			Warn("status transition skipped: record expired")
		return nil
	}
	if rec.Terminal() {
		s.logger.WithContext(ctx).WithRequest(requestID).WithField("status", next).
			Warn("status transition skipped: record already delivered")
		return nil
	}

	rec.Status = next
	rec.UpdatedAt = now.UTC()
	rec.ErrorMessage = nil
	if next == notification.StatusFailed && errMsg != "" {
		rec.ErrorMessage = &errMsg
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("status: encode %s: %w", requestID, err)
	}
	if err := s.client.Set(ctx, statusKey(requestID), b, remaining).Err(); err != nil {
		return fmt.Errorf("status: set %s: %w", requestID, err)
	}
	s.logger.WithContext(ctx).WithRequest(requestID).WithFields(map[string]any{
		"status":        next,
		"remaining_ttl": remaining.String(),
	}).Debug("status updated")
	return nil
}
