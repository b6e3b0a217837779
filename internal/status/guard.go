package status

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const processedKeyPrefix = "processed:"

func processedKey(requestID string) string { return processedKeyPrefix + requestID }

// Guard records confirmed deliveries so broker redeliveries do not resend.
// Absence of a marker means "not confirmed", not "never attempted".
type Guard struct {
	client redis.Cmdable
}

func NewGuard(client redis.Cmdable) *Guard {
	return &Guard{client: client}
}

// AlreadyDelivered reports whether a delivery marker exists.
func (g *Guard) AlreadyDelivered(ctx context.Context, requestID string) (bool, error) {
	n, err := g.client.Exists(ctx, processedKey(requestID)).Result()
	if err != nil {
		return false, fmt.Errorf("status: check processed %s: %w", requestID, err)
	}
	return n > 0, nil
}

// MarkDelivered writes the marker with a fixed retention independent of
// the status record's TTL.
func (g *Guard) MarkDelivered(ctx context.Context, requestID string, ttl time.Duration) error {
	if err := g.client.Set(ctx, processedKey(requestID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("status: mark processed %s: %w", requestID, err)
	}
	return nil
}
