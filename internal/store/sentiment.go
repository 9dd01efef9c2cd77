package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// sentimentColumns is the shared select list for sentiment scans.
const sentimentColumns = `id, sentiment_id, event_id, hospital_name, title,
	source_platform, content, ai_reason, severity, url, status,
	is_duplicate, dismissed_at, insight, insight_at, processed_at`

// GetSentiment fetches a single sentiment by its logical id, including
// full content.
func (s *Store) GetSentiment(ctx context.Context, sentimentID string) (*Sentiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sentimentColumns+` FROM sentiments WHERE sentiment_id = ?`,
		sentimentID)

	sen, err := scanSentiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sentiment: %w", err)
	}
	return sen, nil
}

// ListSentiments returns sentiments matching the filter, newest first.
func (s *Store) ListSentiments(ctx context.Context, f SentimentFilter) ([]*Sentiment, error) {
	var conds []string
	var args []any

	switch f.Status {
	case "", "all":
		// no status condition
	default:
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Hospital != "" {
		conds = append(conds, "hospital_name = ?")
		args = append(args, f.Hospital)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if !f.From.IsZero() {
		conds = append(conds, "processed_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "processed_at < ?")
		args = append(args, f.To)
	}
	if f.Search != "" {
		needle := "%" + f.Search + "%"
		conds = append(conds,
			"(title LIKE ? OR content LIKE ? OR ai_reason LIKE ? OR hospital_name LIKE ?)")
		args = append(args, needle, needle, needle, needle)
	}

	query := `SELECT ` + sentimentColumns + ` FROM sentiments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY processed_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sentiments: %w", err)
	}
	defer rows.Close()

	return collectSentiments(rows)
}

// SetSentimentStatus flips a sentiment between active and dismissed in a
// single transaction. dismissedAt is recorded when dismissing and
// cleared when reactivating.
func (s *Store) SetSentimentStatus(ctx context.Context, sentimentID, status string, dismissedAt *time.Time) error {
	if status != StatusActive && status != StatusDismissed {
		return fmt.Errorf("invalid status %q", status)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sentiments SET status = ?, dismissed_at = ?
			WHERE sentiment_id = ?
		`, status, dismissedAt, sentimentID)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// The row may exist with the same status already; treat a
			// genuinely missing sentiment as not found.
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM sentiments WHERE sentiment_id = ?`, sentimentID,
			).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			} else if err != nil {
				return fmt.Errorf("verify sentiment: %w", err)
			}
		}
		return nil
	})
}

// SetInsight caches a lazily generated per-item analysis.
func (s *Store) SetInsight(ctx context.Context, sentimentID, insight string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sentiments SET insight = ?, insight_at = ? WHERE sentiment_id = ?
	`, insight, time.Now(), sentimentID)
	if err != nil {
		return fmt.Errorf("set insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSentiment(row rowScanner) (*Sentiment, error) {
	var sen Sentiment
	var eventID sql.NullInt64
	var content, reason, url, insight sql.NullString
	var dismissedAt, insightAt sql.NullTime

	err := row.Scan(&sen.ID, &sen.SentimentID, &eventID, &sen.Hospital,
		&sen.Title, &sen.Source, &content, &reason, &sen.Severity, &url,
		&sen.Status, &sen.IsDuplicate, &dismissedAt, &insight, &insightAt,
		&sen.ProcessedAt)
	if err != nil {
		return nil, err
	}

	if eventID.Valid {
		sen.EventID = uint64(eventID.Int64)
	}
	sen.Content = content.String
	sen.Reason = reason.String
	sen.URL = url.String
	sen.Insight = insight.String
	if dismissedAt.Valid {
		t := dismissedAt.Time
		sen.DismissedAt = &t
	}
	if insightAt.Valid {
		t := insightAt.Time
		sen.InsightAt = &t
	}
	return &sen, nil
}

func collectSentiments(rows *sql.Rows) ([]*Sentiment, error) {
	var out []*Sentiment
	for rows.Next() {
		sen, err := scanSentiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sentiment: %w", err)
		}
		out = append(out, sen)
	}
	return out, rows.Err()
}
