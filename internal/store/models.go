package store

import "time"

// Severity levels assigned by the classifier.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Sentiment status values.
const (
	StatusActive    = "active"
	StatusDismissed = "dismissed"
)

// Feedback queue entry states.
const (
	QueuePending  = "pending"
	QueueAnswered = "answered"
	QueueExpired  = "expired"
)

// Rule types and actions.
const (
	RuleTypeKeyword = "keyword"
	RuleTypeRegex   = "regex"

	RuleActionSuppress  = "suppress"
	RuleActionDowngrade = "downgrade"
)

// ValidSeverity reports whether s is one of the three severity literals.
func ValidSeverity(s string) bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// SeverityScore maps a severity literal to its presentation score. The
// mapping is stable so dashboard stats align with severity badges.
func SeverityScore(severity string) float64 {
	switch severity {
	case SeverityHigh:
		return 0.92
	case SeverityMedium:
		return 0.60
	default:
		return 0.35
	}
}

// SeverityRank orders severities for escalation checks (high > medium > low).
func SeverityRank(severity string) int {
	switch severity {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Event aggregates recurring sentiments that concern the same real-world
// incident: same canonical URL and hospital within the aggregation window.
type Event struct {
	ID              uint64    `json:"id"`
	Hospital        string    `json:"hospital_name"`
	Fingerprint     uint64    `json:"fingerprint"`
	URL             string    `json:"event_url"`
	TotalCount      int       `json:"total_count"`
	LastTitle       string    `json:"last_title"`
	LastReason      string    `json:"last_reason"`
	LastSource      string    `json:"last_source"`
	LastSeverity    string    `json:"last_severity"`
	LastSentimentID string    `json:"last_sentiment_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// Sentiment is one classified article derived from one scraped URL.
type Sentiment struct {
	ID          uint64     `json:"-"`
	SentimentID string     `json:"sentiment_id"`
	EventID     uint64     `json:"event_id,omitempty"`
	Hospital    string     `json:"hospital_name"`
	Title       string     `json:"title"`
	Source      string     `json:"source_platform"`
	Content     string     `json:"content,omitempty"`
	Reason      string     `json:"ai_reason"`
	Severity    string     `json:"severity"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	IsDuplicate bool       `json:"is_duplicate"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	Insight     string     `json:"insight,omitempty"`
	InsightAt   *time.Time `json:"insight_at,omitempty"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// Score returns the presentation score for the sentiment's severity.
func (s *Sentiment) Score() float64 {
	return SeverityScore(s.Severity)
}

// Feedback is one immutable user judgement on a sentiment.
type Feedback struct {
	ID           uint64    `json:"id"`
	SentimentID  string    `json:"sentiment_id"`
	Judgement    bool      `json:"judgement"`
	FeedbackType string    `json:"type"`
	Comment      string    `json:"comment"`
	UserID       string    `json:"user_id"`
	FeedbackTime time.Time `json:"feedback_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueueEntry correlates a feedback callback to the alert that carried
// the signed link.
type QueueEntry struct {
	ID          uint64    `json:"id"`
	UserID      string    `json:"user_id"`
	SentimentID string    `json:"sentiment_id"`
	SentTime    time.Time `json:"sent_time"`
	Status      string    `json:"status"`
}

// Rule is a compiled suppression directive consulted before LLM
// invocation.
type Rule struct {
	ID               uint64    `json:"id"`
	Pattern          string    `json:"pattern"`
	RuleType         string    `json:"rule_type"`
	Action           string    `json:"action"`
	Confidence       float64   `json:"confidence"`
	Enabled          bool      `json:"enabled"`
	SourceFeedbackID uint64    `json:"source_feedback_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SentimentFilter selects sentiments for list queries.
type SentimentFilter struct {
	Status   string // active, dismissed, or all
	Hospital string
	Severity string
	From     time.Time
	To       time.Time
	Search   string // matches title, content, ai_reason, hospital_name
	Limit    int
	Offset   int
}

// Stats is the aggregate dashboard summary for a time range.
type Stats struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Dismissed    int            `json:"dismissed"`
	High         int            `json:"high"`
	BySeverity   map[string]int `json:"by_severity"`
	ByHospital   map[string]int `json:"by_hospital"`
	BySource     map[string]int `json:"by_source"`
	AverageScore float64        `json:"average_score"`
}

// TrendBucket is one time bucket of the trend series.
type TrendBucket struct {
	Label        string  `json:"label"`
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
}
