package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnqueueFeedback creates a pending queue entry before an alert goes
// out, so the signed link can carry the queue id.
func (s *Store) EnqueueFeedback(ctx context.Context, userID, sentimentID string) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_queue (user_id, sentiment_id, sent_time, status)
		VALUES (?, ?, ?, 'pending')
	`, userID, sentimentID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("enqueue feedback: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue insert id: %w", err)
	}
	return uint64(id), nil
}

// GetQueueEntry fetches a queue row by id.
func (s *Store) GetQueueEntry(ctx context.Context, queueID uint64) (*QueueEntry, error) {
	var q QueueEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sentiment_id, sent_time, status
		FROM feedback_queue WHERE id = ?
	`, queueID).Scan(&q.ID, &q.UserID, &q.SentimentID, &q.SentTime, &q.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &q, nil
}

// ResolveFeedback records a user judgement and flips the referenced
// sentiment's status in the same transaction: judgement=false dismisses
// (false positive), judgement=true reactivates a dismissed item.
func (s *Store) ResolveFeedback(ctx context.Context, queueID uint64, judgement bool, feedbackType, comment string) error {
	now := time.Now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var q QueueEntry
		err := tx.QueryRowContext(ctx, `
			SELECT id, user_id, sentiment_id, sent_time, status
			FROM feedback_queue WHERE id = ? FOR UPDATE
		`, queueID).Scan(&q.ID, &q.UserID, &q.SentimentID, &q.SentTime, &q.Status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock queue entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feedbacks (sentiment_id, judgement, feedback_type,
			                       comment, user_id, feedback_time, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, q.SentimentID, judgement, feedbackType, comment, q.UserID, now, now); err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}

		status := StatusActive
		var dismissedAt any
		if !judgement {
			status = StatusDismissed
			dismissedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sentiments SET status = ?, dismissed_at = ?
			WHERE sentiment_id = ?
		`, status, dismissedAt, q.SentimentID); err != nil {
			return fmt.Errorf("flip sentiment status: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE feedback_queue SET status = 'answered' WHERE id = ?
		`, q.ID); err != nil {
			return fmt.Errorf("mark queue answered: %w", err)
		}
		return nil
	})
}

// ExpireQueueEntries marks pending entries older than the cutoff as
// expired. Returns the number of entries expired.
func (s *Store) ExpireQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feedback_queue SET status = 'expired'
		WHERE status = 'pending' AND sent_time < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire queue entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListRecentFeedback returns feedback newer than since, oldest first.
// The rule compiler consumes this.
func (s *Store) ListRecentFeedback(ctx context.Context, since time.Time) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sentiment_id, judgement, feedback_type, comment,
		       user_id, feedback_time, created_at
		FROM feedbacks
		WHERE created_at >= ?
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	defer rows.Close()

	var out []*Feedback
	for rows.Next() {
		var f Feedback
		var comment sql.NullString
		if err := rows.Scan(&f.ID, &f.SentimentID, &f.Judgement, &f.FeedbackType,
			&comment, &f.UserID, &f.FeedbackTime, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.Comment = comment.String
		out = append(out, &f)
	}
	return out, rows.Err()
}

// GetSentimentText returns the title and ai_reason for a sentiment; the
// rule compiler extracts n-grams from these.
func (s *Store) GetSentimentText(ctx context.Context, sentimentID string) (title, reason string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT title, COALESCE(ai_reason, '') FROM sentiments WHERE sentiment_id = ?
	`, sentimentID).Scan(&title, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("get sentiment text: %w", err)
	}
	return title, reason, nil
}

// UpsertRule promotes a compiled suppression rule. Promotion is
// idempotent: an existing identical (pattern, type, action) row is left
// untouched except for a confidence refresh.
func (s *Store) UpsertRule(ctx context.Context, r Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_rules (pattern, rule_type, action, confidence,
		                            enabled, source_feedback_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE confidence = VALUES(confidence)
	`, r.Pattern, r.RuleType, r.Action, r.Confidence, r.Enabled,
		nullableID(r.SourceFeedbackID), time.Now())
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// ListEnabledRules returns the rules the classifier consults. Disabled
// rules are never returned.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, rule_type, action, confidence, enabled,
		       COALESCE(source_feedback_id, 0), created_at
		FROM feedback_rules
		WHERE enabled = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Pattern, &r.RuleType, &r.Action,
			&r.Confidence, &r.Enabled, &r.SourceFeedbackID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListSuppressKeywords returns the manually-administered keyword list.
func (s *Store) ListSuppressKeywords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword FROM suppress_keywords ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list suppress keywords: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ReplaceSuppressKeywords swaps the admin keyword list in one
// transaction. Rule compilation never writes here; this list belongs to
// the operators.
func (s *Store) ReplaceSuppressKeywords(ctx context.Context, keywords []string) error {
	now := time.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM suppress_keywords`); err != nil {
			return fmt.Errorf("clear keywords: %w", err)
		}
		for _, k := range keywords {
			if k == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO suppress_keywords (keyword, created_at) VALUES (?, ?)
				ON DUPLICATE KEY UPDATE id = id
			`, k, now); err != nil {
				return fmt.Errorf("insert keyword %q: %w", k, err)
			}
		}
		return nil
	})
}

// SeedSuppressKeywords inserts configured keywords without touching
// operator additions. Called once at startup.
func (s *Store) SeedSuppressKeywords(ctx context.Context, keywords []string) error {
	now := time.Now()
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO suppress_keywords (keyword, created_at) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE id = id
		`, k, now); err != nil {
			return fmt.Errorf("seed keyword %q: %w", k, err)
		}
	}
	return nil
}

func nullableID(id uint64) any {
	if id == 0 {
		return nil
	}
	return id
}
