package feedback

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/store"
)

func newTestLoop(t *testing.T) (*Loop, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, slog.Default())
	cfg := config.FeedbackConfig{MinSupport: 3, NgramMin: 2, NgramMax: 6}
	return NewLoop(st, NewSigner("hunter2", time.Hour), cfg, slog.Default()), mock
}

func feedbackRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "sentiment_id", "judgement", "feedback_type", "comment",
		"user_id", "feedback_time", "created_at",
	})
}

func textRows(title, reason string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"title", "reason"}).AddRow(title, reason)
}

func TestCompileRulesPromotesRecurringNgram(t *testing.T) {
	loop, mock := newTestLoop(t)
	now := time.Now()

	// Three false positives whose titles share the isolated segment
	// "广告推广"; the unique suffixes never reach min support.
	mock.ExpectQuery("SELECT (.+) FROM feedbacks").
		WillReturnRows(feedbackRows().
			AddRow(1, "s1", false, "false_positive", "", "u", now, now).
			AddRow(2, "s2", false, "false_positive", "", "u", now, now).
			AddRow(3, "s3", false, "false_positive", "", "u", now, now))

	mock.ExpectQuery("SELECT title, (.+) FROM sentiments").
		WillReturnRows(textRows("广告推广 文一", ""))
	mock.ExpectQuery("SELECT title, (.+) FROM sentiments").
		WillReturnRows(textRows("广告推广 文二", ""))
	mock.ExpectQuery("SELECT title, (.+) FROM sentiments").
		WillReturnRows(textRows("广告推广 文三", ""))

	// Exactly one maximal gram qualifies: 广告推广. Its substrings carry
	// identical support and are redundant.
	mock.ExpectExec("INSERT INTO feedback_rules").
		WithArgs("广告推广", store.RuleTypeKeyword, store.RuleActionSuppress,
			0.75, true, uint64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := loop.CompileRules(context.Background()); err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompileRulesPoisonedByConfirmedNegative(t *testing.T) {
	loop, mock := newTestLoop(t)
	now := time.Now()

	// The same gram appears in three false positives AND one confirmed
	// negative: promotion must not happen.
	mock.ExpectQuery("SELECT (.+) FROM feedbacks").
		WillReturnRows(feedbackRows().
			AddRow(1, "s1", false, "false_positive", "", "u", now, now).
			AddRow(2, "s2", false, "false_positive", "", "u", now, now).
			AddRow(3, "s3", false, "false_positive", "", "u", now, now).
			AddRow(4, "s4", true, "confirmed", "", "u", now, now))

	for _, title := range []string{"广告推广", "广告推广", "广告推广", "广告推广"} {
		mock.ExpectQuery("SELECT title, (.+) FROM sentiments").
			WillReturnRows(textRows(title, ""))
	}

	if err := loop.CompileRules(context.Background()); err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	// No INSERT was expected: an attempted promotion would have hit an
	// unexpected exec and surfaced as a CompileRules error above.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompileRulesNoFeedbackIsNoop(t *testing.T) {
	loop, mock := newTestLoop(t)

	mock.ExpectQuery("SELECT (.+) FROM feedbacks").
		WillReturnRows(feedbackRows())

	if err := loop.CompileRules(context.Background()); err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
