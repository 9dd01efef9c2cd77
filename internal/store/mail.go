package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertProcessedMail records a handled email token. Returns true when
// the token was newly inserted, false when a row for it already existed.
// The at-most-one-row-per-token invariant rides on the unique key; the
// idempotent re-insert keeps mailbox rescans safe.
func (s *Store) UpsertProcessedMail(ctx context.Context, token, hospital string, emailDate time.Time) (bool, error) {
	var date any
	if !emailDate.IsZero() {
		date = emailDate
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_mails (token, hospital_name, email_date, processed_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, token, hospital, date, time.Now())
	if err != nil {
		return false, fmt.Errorf("upsert processed mail: %w", err)
	}

	// MySQL reports 1 affected row for a fresh insert and 0 for the
	// no-op duplicate branch.
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteProcessedMailsBefore removes dedup records older than the cutoff.
// Called by the retention sweep; never blocks ingestion because token
// upserts for live mail touch younger rows.
func (s *Store) DeleteProcessedMailsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_mails WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
