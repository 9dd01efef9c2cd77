package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/store"
)

// lockStripes is the size of the keyed-mutex stripe array. Fingerprints
// map onto stripes; collisions only cost unnecessary serialization.
const lockStripes = 64

// Result reports what aggregation did with one verdict.
type Result struct {
	SentimentID string
	EventID     uint64
	IsDuplicate bool
	// Notify is set for first-of-event sentiments and for duplicates
	// that escalate the event to high severity.
	Notify     bool
	Escalated  bool
	EventTotal int
}

// Aggregator fingerprints verdicts and groups them into events through
// the store. Concurrent aggregation for the same (hospital,
// fingerprint) key is serialized by a keyed in-process mutex; the
// store's row lock and unique key are the cross-process backstop.
type Aggregator struct {
	store          *store.Store
	window         time.Duration
	trackingParams []string
	logger         *slog.Logger

	locks [lockStripes]sync.Mutex
}

// New creates an aggregator.
func New(st *store.Store, window time.Duration, trackingParams []string, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:          st,
		window:         window,
		trackingParams: trackingParams,
		logger:         logger.With("component", "aggregate"),
	}
}

// NewSentimentID generates the stable logical id for a sentiment.
// UUIDv7 keeps ids roughly time-ordered; v4 is the fallback.
func NewSentimentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Aggregate persists the verdict and returns its event placement.
// Non-negative verdicts are stored standalone and never touch events.
func (a *Aggregator) Aggregate(ctx context.Context, v classify.Verdict, art extract.Article) (*Result, error) {
	hospital := extract.NormalizeHospital(art.Hospital)
	canonical := CanonicalizeURL(art.URL, a.trackingParams)

	title := v.Title
	if title == "" {
		title = art.Title
	}

	params := store.AggregateParams{
		Hospital:     hospital,
		Fingerprint:  Fingerprint(canonical, hospital),
		CanonicalURL: canonical,
		SentimentID:  NewSentimentID(),
		Title:        title,
		Source:       art.Source,
		Content:      art.Body,
		Reason:       v.Reason,
		Severity:     v.Severity,
		URL:          art.URL,
		Window:       a.window,
	}

	if !v.IsNegative {
		if _, err := a.store.InsertStandaloneSentiment(ctx, params); err != nil {
			return nil, fmt.Errorf("persist non-negative sentiment: %w", err)
		}
		return &Result{SentimentID: params.SentimentID}, nil
	}

	lock := &a.locks[params.Fingerprint%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	res, err := a.store.AggregateSentiment(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("aggregate sentiment: %w", err)
	}

	escalated := !res.Created &&
		v.Severity == store.SeverityHigh &&
		store.SeverityRank(res.PrevSeverity) < store.SeverityRank(store.SeverityHigh)

	out := &Result{
		SentimentID: params.SentimentID,
		EventID:     res.EventID,
		IsDuplicate: !res.Created,
		Notify:      res.Created || escalated,
		Escalated:   escalated,
		EventTotal:  res.TotalCount,
	}

	a.logger.Info("sentiment aggregated",
		"sentiment_id", out.SentimentID,
		"event_id", out.EventID,
		"hospital", hospital,
		"duplicate", out.IsDuplicate,
		"severity", v.Severity,
		"total_count", res.TotalCount,
	)
	return out, nil
}
