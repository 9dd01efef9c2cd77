// Package store provides transactional MySQL persistence for processed
// mails, events, sentiments, feedback, and suppression rules. It is the
// only package that mutates rows; every other component goes through the
// typed operations exposed here, and every write runs in a single
// transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/fusae/mailcheck/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle. All public methods are goroutine-safe;
// concurrency control is delegated to the database's row locks plus the
// unique keys declared in the schema.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to MySQL, configures the connection pool, and runs the
// idempotent schema initializer.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db, logger)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// New wraps an existing database handle. Used by Open and by tests that
// inject a mocked *sql.DB.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database liveness. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// schema is the idempotent DDL. All indexes are declared inline so a
// re-run of CREATE TABLE IF NOT EXISTS never trips over existing keys.
// Fingerprints are 64-bit unsigned in Go and stored two's-complement in
// a signed BIGINT column.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS processed_mails (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		token VARCHAR(191) NOT NULL,
		hospital_name VARCHAR(255) NOT NULL DEFAULT '',
		email_date DATETIME NULL,
		processed_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_processed_mails_token (token),
		KEY idx_processed_mails_processed_at (processed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		hospital_name VARCHAR(255) NOT NULL,
		fingerprint BIGINT NOT NULL,
		window_bucket BIGINT NOT NULL,
		event_url TEXT NOT NULL,
		total_count INT NOT NULL DEFAULT 1,
		last_title VARCHAR(512) NOT NULL DEFAULT '',
		last_reason TEXT,
		last_source VARCHAR(128) NOT NULL DEFAULT '',
		last_severity VARCHAR(16) NOT NULL DEFAULT 'low',
		last_sentiment_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_events_key_window (hospital_name(100), fingerprint, window_bucket),
		KEY idx_events_hospital_seen (hospital_name, last_seen_at),
		KEY idx_events_fingerprint (fingerprint),
		KEY idx_events_url (event_url(191))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sentiments (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		sentiment_id VARCHAR(64) NOT NULL,
		event_id BIGINT UNSIGNED NULL,
		hospital_name VARCHAR(255) NOT NULL,
		title VARCHAR(512) NOT NULL DEFAULT '',
		source_platform VARCHAR(128) NOT NULL DEFAULT '',
		content MEDIUMTEXT,
		ai_reason TEXT,
		severity VARCHAR(16) NOT NULL DEFAULT 'low',
		url TEXT,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		is_duplicate TINYINT(1) NOT NULL DEFAULT 0,
		dismissed_at DATETIME NULL,
		insight MEDIUMTEXT,
		insight_at DATETIME NULL,
		processed_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_sentiments_sentiment_id (sentiment_id),
		KEY idx_sentiments_processed_at (processed_at),
		KEY idx_sentiments_status (status),
		KEY idx_sentiments_hospital (hospital_name),
		KEY idx_sentiments_event (event_id),
		KEY idx_sentiments_url (url(191))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS feedbacks (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		sentiment_id VARCHAR(64) NOT NULL,
		judgement TINYINT(1) NOT NULL,
		feedback_type VARCHAR(64) NOT NULL DEFAULT '',
		comment TEXT,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		feedback_time DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		KEY idx_feedbacks_sentiment (sentiment_id),
		KEY idx_feedbacks_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS feedback_queue (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		sentiment_id VARCHAR(64) NOT NULL,
		sent_time DATETIME NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		PRIMARY KEY (id),
		KEY idx_feedback_queue_user (user_id, status, sent_time),
		KEY idx_feedback_queue_sentiment (sentiment_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS feedback_rules (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		pattern VARCHAR(191) NOT NULL,
		rule_type VARCHAR(16) NOT NULL DEFAULT 'keyword',
		action VARCHAR(16) NOT NULL DEFAULT 'suppress',
		confidence DOUBLE NOT NULL DEFAULT 0,
		enabled TINYINT(1) NOT NULL DEFAULT 1,
		source_feedback_id BIGINT UNSIGNED NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_feedback_rules (pattern, rule_type, action)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS suppress_keywords (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		keyword VARCHAR(191) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_suppress_keywords (keyword)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// InitSchema creates all tables if they do not exist. Safe to run on
// every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isDuplicateKey reports whether err is a MySQL duplicate-key violation
// (error 1062). Losing writers in find-or-create races treat this as
// success and re-read the winning row.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
