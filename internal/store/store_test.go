package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertProcessedMailInserted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO processed_mails").
		WithArgs("tok-1", "某医院", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := s.UpsertProcessedMail(context.Background(), "tok-1", "某医院", time.Now())
	if err != nil {
		t.Fatalf("UpsertProcessedMail: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for fresh token")
	}
	expectationsMet(t, mock)
}

func TestUpsertProcessedMailExisted(t *testing.T) {
	s, mock := newMockStore(t)

	// The duplicate branch of ON DUPLICATE KEY UPDATE id=id affects 0 rows.
	mock.ExpectExec("INSERT INTO processed_mails").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.UpsertProcessedMail(context.Background(), "tok-1", "某医院", time.Time{})
	if err != nil {
		t.Fatalf("UpsertProcessedMail: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false for existing token")
	}
	expectationsMet(t, mock)
}

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "hospital_name", "fingerprint", "event_url", "total_count",
		"last_title", "last_reason", "last_source", "last_severity",
		"last_sentiment_id", "created_at", "last_seen_at",
	})
}

func aggParams() AggregateParams {
	return AggregateParams{
		Hospital:     "市一医院",
		Fingerprint:  0xDEADBEEFCAFEF00D,
		CanonicalURL: "https://vendor.example/r?id=abc",
		SentimentID:  "sent-1",
		Title:        "病历外泄",
		Source:       "weibo",
		Content:      "正文",
		Reason:       "隐私泄露",
		Severity:     SeverityHigh,
		URL:          "https://vendor.example/r?id=abc&utm_source=x",
		Window:       72 * time.Hour,
	}
}

func TestAggregateSentimentCreatesEvent(t *testing.T) {
	s, mock := newMockStore(t)
	p := aggParams()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM events").
		WillReturnRows(eventRows()) // no open event
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO sentiments").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	res, err := s.AggregateSentiment(context.Background(), p)
	if err != nil {
		t.Fatalf("AggregateSentiment: %v", err)
	}
	if !res.Created {
		t.Error("expected Created=true")
	}
	if res.EventID != 7 {
		t.Errorf("EventID = %d, want 7", res.EventID)
	}
	if res.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", res.TotalCount)
	}
	expectationsMet(t, mock)
}

func TestAggregateSentimentDuplicateBumpsEvent(t *testing.T) {
	s, mock := newMockStore(t)
	p := aggParams()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM events").
		WillReturnRows(eventRows().AddRow(
			7, p.Hospital, int64(p.Fingerprint), p.CanonicalURL, 1,
			"旧标题", "旧原因", "weibo", SeverityMedium, "sent-0",
			now.Add(-time.Hour), now.Add(-time.Hour)))
	mock.ExpectExec("UPDATE events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sentiments").
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	res, err := s.AggregateSentiment(context.Background(), p)
	if err != nil {
		t.Fatalf("AggregateSentiment: %v", err)
	}
	if res.Created {
		t.Error("expected Created=false for duplicate")
	}
	if res.PrevSeverity != SeverityMedium {
		t.Errorf("PrevSeverity = %q, want medium", res.PrevSeverity)
	}
	if res.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", res.TotalCount)
	}
	expectationsMet(t, mock)
}

func TestAggregateSentimentLosesCreateRace(t *testing.T) {
	s, mock := newMockStore(t)
	p := aggParams()
	now := time.Now()

	// First read sees nothing; the insert hits the unique key because a
	// concurrent writer committed first; the re-read finds the winner.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM events").
		WillReturnRows(eventRows())
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery("SELECT (.+) FROM events").
		WillReturnRows(eventRows().AddRow(
			9, p.Hospital, int64(p.Fingerprint), p.CanonicalURL, 1,
			"t", "r", "weibo", SeverityLow, "sent-x", now, now))
	mock.ExpectExec("UPDATE events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sentiments").
		WillReturnResult(sqlmock.NewResult(13, 1))
	mock.ExpectCommit()

	res, err := s.AggregateSentiment(context.Background(), p)
	if err != nil {
		t.Fatalf("AggregateSentiment: %v", err)
	}
	if res.Created {
		t.Error("losing writer must report Created=false")
	}
	if res.EventID != 9 {
		t.Errorf("EventID = %d, want winner's 9", res.EventID)
	}
	expectationsMet(t, mock)
}

func TestAggregateSentimentRejectsBadSeverity(t *testing.T) {
	s, _ := newMockStore(t)
	p := aggParams()
	p.Severity = "critical"

	if _, err := s.AggregateSentiment(context.Background(), p); err == nil {
		t.Error("expected error for invalid severity")
	}
}

func TestResolveFeedbackDismisses(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM feedback_queue").
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "sentiment_id", "sent_time", "status"}).
			AddRow(42, "u-1", "sent-1", now, QueuePending))
	mock.ExpectExec("INSERT INTO feedbacks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sentiments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE feedback_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ResolveFeedback(context.Background(), 42, false, "false_positive", "广告推广")
	if err != nil {
		t.Fatalf("ResolveFeedback: %v", err)
	}
	expectationsMet(t, mock)
}

func TestResolveFeedbackUnknownQueue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM feedback_queue").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "sentiment_id", "sent_time", "status"}))
	mock.ExpectRollback()

	err := s.ResolveFeedback(context.Background(), 99, true, "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestSetSentimentStatusInvalid(t *testing.T) {
	s, _ := newMockStore(t)
	if err := s.SetSentimentStatus(context.Background(), "sent-1", "archived", nil); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestSeverityScore(t *testing.T) {
	tests := []struct {
		severity string
		want     float64
	}{
		{SeverityLow, 0.35},
		{SeverityMedium, 0.60},
		{SeverityHigh, 0.92},
		{"unknown", 0.35},
	}
	for _, tt := range tests {
		if got := SeverityScore(tt.severity); got != tt.want {
			t.Errorf("SeverityScore(%q) = %v, want %v", tt.severity, got, tt.want)
		}
	}
}
