package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used by the archive.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGArchive stores dead-lettered messages in notify.dead_letters.
type PGArchive struct {
	db Execer
}

func NewPGArchive(db Execer) *PGArchive {
	return &PGArchive{db: db}
}

const insertDeadLetter = `
	INSERT INTO notify.dead_letters (request_id, channel, reason, attempts, last_error, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Insert archives one record. Payloads that are not valid JSON are stored
// as a JSON string so the jsonb column accepts them.
func (a *PGArchive) Insert(ctx context.Context, rec Record) error {
	payload := rec.Payload
	if !json.Valid(payload) {
		b, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("deadletter: encode payload: %w", err)
		}
		payload = b
	}
	var lastErr *string
	if rec.LastError != "" {
		lastErr = &rec.LastError
	}
	if _, err := a.db.Exec(ctx, insertDeadLetter,
		nullable(rec.RequestID), rec.Channel, rec.Reason, rec.Attempts, lastErr, string(payload), rec.At,
	); err != nil {
		return fmt.Errorf("deadletter: archive %s: %w", rec.RequestID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
