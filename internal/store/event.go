package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AggregateParams carries one classified article into the find-or-create
// event transaction.
type AggregateParams struct {
	Hospital     string
	Fingerprint  uint64
	CanonicalURL string
	SentimentID  string
	Title        string
	Source       string
	Content      string
	Reason       string
	Severity     string
	URL          string
	Window       time.Duration
}

// AggregateResult reports what the transaction did.
type AggregateResult struct {
	EventID      uint64
	SentimentRow uint64
	Created      bool   // a new Event row was created
	PrevSeverity string // last_severity before this sentiment (empty when Created)
	TotalCount   int
}

// AggregateSentiment locates or creates the open event for
// (hospital, fingerprint) within the window and inserts the sentiment
// linked to it, all in one transaction. The open-event row is read FOR
// UPDATE so concurrent aggregators for the same key serialize at the
// database even across processes; the unique key on
// (hospital_name, fingerprint, window_bucket) is the backstop — the
// losing writer of a create race re-reads the winner and proceeds as a
// duplicate.
func (s *Store) AggregateSentiment(ctx context.Context, p AggregateParams) (*AggregateResult, error) {
	if !ValidSeverity(p.Severity) {
		return nil, fmt.Errorf("invalid severity %q", p.Severity)
	}

	now := time.Now()
	res := &AggregateResult{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := findOpenEventTx(ctx, tx, p.Hospital, p.Fingerprint, now.Add(-p.Window))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if ev == nil {
			id, createErr := createEventTx(ctx, tx, p, now)
			if createErr != nil {
				if !isDuplicateKey(createErr) {
					return createErr
				}
				// Lost the create race: the winner's row is committed
				// or about to be. Re-read it under lock and bump.
				ev, err = findOpenEventTx(ctx, tx, p.Hospital, p.Fingerprint, now.Add(-p.Window))
				if err != nil {
					return fmt.Errorf("re-read after duplicate key: %w", err)
				}
			} else {
				res.EventID = id
				res.Created = true
				res.TotalCount = 1
			}
		}

		if ev != nil {
			res.EventID = ev.ID
			res.PrevSeverity = ev.LastSeverity
			res.TotalCount = ev.TotalCount + 1
			if err := touchEventTx(ctx, tx, ev.ID, p, now); err != nil {
				return err
			}
		}

		rowID, err := insertSentimentTx(ctx, tx, p, res.EventID, !res.Created, now)
		if err != nil {
			return err
		}
		res.SentimentRow = rowID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// findOpenEventTx reads the open event for the key with a row lock.
func findOpenEventTx(ctx context.Context, tx *sql.Tx, hospital string, fp uint64, since time.Time) (*Event, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, hospital_name, fingerprint, event_url, total_count,
		       last_title, last_reason, last_source, last_severity,
		       last_sentiment_id, created_at, last_seen_at
		FROM events
		WHERE hospital_name = ? AND fingerprint = ? AND last_seen_at >= ?
		ORDER BY last_seen_at DESC
		LIMIT 1
		FOR UPDATE
	`, hospital, int64(fp), since)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open event: %w", err)
	}
	return ev, nil
}

// createEventTx inserts a fresh event with total_count 1. The window
// bucket pins the uniqueness constraint to the creation window.
func createEventTx(ctx context.Context, tx *sql.Tx, p AggregateParams, now time.Time) (uint64, error) {
	bucket := int64(0)
	if p.Window > 0 {
		bucket = now.Unix() / int64(p.Window.Seconds())
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (hospital_name, fingerprint, window_bucket, event_url,
		                    total_count, last_title, last_reason, last_source,
		                    last_severity, last_sentiment_id, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
	`, p.Hospital, int64(p.Fingerprint), bucket, p.CanonicalURL,
		p.Title, p.Reason, p.Source, p.Severity, p.SentimentID, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event insert id: %w", err)
	}
	return uint64(id), nil
}

// touchEventTx bumps the event on a duplicate sentiment: count,
// last_* fields, and last_seen_at.
func touchEventTx(ctx context.Context, tx *sql.Tx, id uint64, p AggregateParams, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE events
		SET total_count = total_count + 1,
		    last_title = ?, last_reason = ?, last_source = ?,
		    last_severity = ?, last_sentiment_id = ?, last_seen_at = ?
		WHERE id = ?
	`, p.Title, p.Reason, p.Source, p.Severity, p.SentimentID, now, id)
	if err != nil {
		return fmt.Errorf("touch event: %w", err)
	}
	return nil
}

// insertSentimentTx writes the sentiment row linked to the event.
func insertSentimentTx(ctx context.Context, tx *sql.Tx, p AggregateParams, eventID uint64, duplicate bool, now time.Time) (uint64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sentiments (sentiment_id, event_id, hospital_name, title,
		                        source_platform, content, ai_reason, severity,
		                        url, status, is_duplicate, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)
	`, p.SentimentID, eventID, p.Hospital, p.Title, p.Source, p.Content,
		p.Reason, p.Severity, p.URL, duplicate, now)
	if err != nil {
		return 0, fmt.Errorf("insert sentiment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sentiment insert id: %w", err)
	}
	return uint64(id), nil
}

// InsertStandaloneSentiment persists a sentiment with no event linkage.
// Non-negative verdicts (including rule-suppressed items and LLM
// failures) are recorded this way: visible for audit, but they never
// create or touch an Event.
func (s *Store) InsertStandaloneSentiment(ctx context.Context, p AggregateParams) (uint64, error) {
	if !ValidSeverity(p.Severity) {
		return 0, fmt.Errorf("invalid severity %q", p.Severity)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sentiments (sentiment_id, event_id, hospital_name, title,
		                        source_platform, content, ai_reason, severity,
		                        url, status, is_duplicate, processed_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, 'active', 0, ?)
	`, p.SentimentID, p.Hospital, p.Title, p.Source, p.Content,
		p.Reason, p.Severity, p.URL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("insert standalone sentiment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sentiment insert id: %w", err)
	}
	return uint64(id), nil
}

// GetEvent fetches an event by id. The last_sentiment_id it carries is
// a denormalized cache and is returned as-is, never resolved here.
func (s *Store) GetEvent(ctx context.Context, id uint64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hospital_name, fingerprint, event_url, total_count,
		       last_title, last_reason, last_source, last_severity,
		       last_sentiment_id, created_at, last_seen_at
		FROM events WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ListEventSentiments returns the most recent sentiments linked to an
// event, newest first.
func (s *Store) ListEventSentiments(ctx context.Context, eventID uint64, limit int) ([]*Sentiment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sentimentColumns+`
		FROM sentiments
		WHERE event_id = ?
		ORDER BY processed_at DESC
		LIMIT ?
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list event sentiments: %w", err)
	}
	defer rows.Close()

	return collectSentiments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var fp int64
	var reason sql.NullString

	err := row.Scan(&ev.ID, &ev.Hospital, &fp, &ev.URL, &ev.TotalCount,
		&ev.LastTitle, &reason, &ev.LastSource, &ev.LastSeverity,
		&ev.LastSentimentID, &ev.CreatedAt, &ev.LastSeenAt)
	if err != nil {
		return nil, err
	}

	ev.Fingerprint = uint64(fp)
	ev.LastReason = reason.String
	return &ev, nil
}
