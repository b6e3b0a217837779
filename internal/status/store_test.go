package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/notification"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewStore(client, logging.Nop())
	s.now = func() time.Time { return fixedNow }
	return s, mr, client
}

func seed(t *testing.T, mr *miniredis.Miniredis, id string, rec notification.StatusRecord) {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, mr.Set(statusKey(id), string(b)))
	if ttl := rec.ExpiresAt.Sub(fixedNow); ttl > 0 {
		mr.SetTTL(statusKey(id), ttl)
	}
}

func TestStoreGet(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	seed(t, mr, "r1", notification.StatusRecord{
		Status:    notification.StatusQueued,
		UpdatedAt: fixedNow.Add(-time.Minute),
		ExpiresAt: fixedNow.Add(time.Hour),
	})
	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, rec.Status)
	assert.True(t, rec.ExpiresAt.Equal(fixedNow.Add(time.Hour)))
	assert.Nil(t, rec.ErrorMessage)
}

func TestStoreGetCorruptRecord(t *testing.T) {
	s, mr, _ := newTestStore(t)
	require.NoError(t, mr.Set(statusKey("bad"), "{not json"))

	_, err := s.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStoreTransitionKeepsExpiry(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()
	expires := fixedNow.Add(30 * time.Minute)
	seed(t, mr, "r1", notification.StatusRecord{Status: notification.StatusQueued, ExpiresAt: expires})

	require.NoError(t, s.Transition(ctx, "r1", notification.StatusSending, ""))

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSending, rec.Status)
	assert.True(t, rec.ExpiresAt.Equal(expires), "expires_at must not change")
	assert.True(t, rec.UpdatedAt.Equal(fixedNow))
	assert.Equal(t, 30*time.Minute, mr.TTL(statusKey("r1")), "ttl recomputed from expires_at")
}

func TestStoreTransitionErrorMessage(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()
	seed(t, mr, "r1", notification.StatusRecord{Status: notification.StatusSending, ExpiresAt: fixedNow.Add(time.Hour)})

	require.NoError(t, s.Transition(ctx, "r1", notification.StatusFailed, "provider exhausted"))
	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "provider exhausted", *rec.ErrorMessage)

	// a later non-failed status clears the error
	require.NoError(t, s.Transition(ctx, "r1", notification.StatusSending, "ignored"))
	rec, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, rec.ErrorMessage)
}

func TestStoreTransitionNoOps(t *testing.T) {
	tests := []struct {
		name   string
		record *notification.StatusRecord
	}{
		{name: "missing record", record: nil},
		{
			name:   "expired by expires_at",
			record: &notification.StatusRecord{Status: notification.StatusQueued, ExpiresAt: fixedNow.Add(-time.Second)},
		},
		{
			name:   "expires exactly now",
			record: &notification.StatusRecord{Status: notification.StatusQueued, ExpiresAt: fixedNow},
		},
		{
			name:   "already delivered",
			record: &notification.StatusRecord{Status: notification.StatusDelivered, ExpiresAt: fixedNow.Add(time.Hour)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mr, _ := newTestStore(t)
			ctx := context.Background()
			if tt.record != nil {
				seed(t, mr, "r1", *tt.record)
			}

			require.NoError(t, s.Transition(ctx, "r1", notification.StatusFailed, "boom"))

			if tt.record == nil {
				assert.False(t, mr.Exists(statusKey("r1")), "missing record must not be resurrected")
				return
			}
			raw, err := mr.Get(statusKey("r1"))
			require.NoError(t, err)
			var rec notification.StatusRecord
			require.NoError(t, json.Unmarshal([]byte(raw), &rec))
			assert.Equal(t, tt.record.Status, rec.Status, "record must be left untouched")
		})
	}
}

func TestStoreRedisDown(t *testing.T) {
	s, mr, _ := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.Transition(context.Background(), "r1", notification.StatusSending, ""))
}
