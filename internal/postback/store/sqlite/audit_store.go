package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/postback-receiver/internal/db"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
)

// AuditStore mirrors both audit streams into SQLite.  Rows are insert-only;
// the schema rejects updates and deletes.
type AuditStore struct {
	writer *dbpkg.Writer
}

func NewAuditStore(writer *dbpkg.Writer) *AuditStore {
	return &AuditStore{writer: writer}
}

func (s *AuditStore) RecordConversion(ctx context.Context, e store.ConversionEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	recordedMs := e.RecordedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversion_events(offer_id, payout, caller_ip, recorded_at_ms)
VALUES (?, ?, ?, ?);
`, e.OfferID, e.Payout, e.CallerIP, recordedMs); err != nil {
			return fmt.Errorf("RecordConversion insert: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) RecordBlocked(ctx context.Context, e store.BlockedEntry) error {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = time.Now().UTC()
	}
	blockedMs := e.BlockedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO blocked_events(caller_ip, blocked_at_ms)
VALUES (?, ?);
`, e.CallerIP, blockedMs); err != nil {
			return fmt.Errorf("RecordBlocked insert: %w", err)
		}
		return nil
	})
}
