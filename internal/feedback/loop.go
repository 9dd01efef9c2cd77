package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/store"
)

// compileLookback bounds how far back the rule compiler reads feedback.
const compileLookback = 30 * 24 * time.Hour

// Loop ingests signed feedback callbacks and compiles suppression
// rules from recurring false positives.
type Loop struct {
	store  *store.Store
	signer *Signer
	cfg    config.FeedbackConfig
	logger *slog.Logger
}

// NewLoop creates the feedback loop.
func NewLoop(st *store.Store, signer *Signer, cfg config.FeedbackConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:  st,
		signer: signer,
		cfg:    cfg,
		logger: logger.With("component", "feedback"),
	}
}

// OnFeedback verifies the signature and expiry, then records the
// judgement: judgement=false dismisses the sentiment (false positive),
// judgement=true confirms it as negative and reactivates it if it was
// dismissed.
func (l *Loop) OnFeedback(ctx context.Context, queueID uint64, sentimentID string, expiry int64, sig string, judgement bool, feedbackType, text string) error {
	if err := l.signer.Verify(queueID, sentimentID, expiry, sig); err != nil {
		return err
	}

	entry, err := l.store.GetQueueEntry(ctx, queueID)
	if err != nil {
		return fmt.Errorf("queue lookup: %w", err)
	}
	if entry.SentimentID != sentimentID {
		// The signature binds both ids, so a mismatch means the queue
		// row was reassigned; treat as tampering.
		return ErrBadSignature
	}

	if err := l.store.ResolveFeedback(ctx, queueID, judgement, feedbackType, text); err != nil {
		return fmt.Errorf("resolve feedback: %w", err)
	}

	l.logger.Info("feedback recorded",
		"queue_id", queueID,
		"sentiment_id", sentimentID,
		"judgement", judgement,
		"type", feedbackType,
	)
	return nil
}

// CompileRules promotes n-grams that recur across false-positive
// feedback into suppression rules. An n-gram qualifies when it appears
// in at least MinSupport false-positive feedbacks and in zero
// confirmed-negative feedbacks. Promotion is idempotent, and the
// manually-authored admin keyword list is never touched.
func (l *Loop) CompileRules(ctx context.Context) error {
	since := time.Now().Add(-compileLookback)
	feedbacks, err := l.store.ListRecentFeedback(ctx, since)
	if err != nil {
		return fmt.Errorf("load feedback: %w", err)
	}
	if len(feedbacks) == 0 {
		return nil
	}

	// Collect the classified text for each judged sentiment once.
	texts := make(map[string]string)
	for _, f := range feedbacks {
		if _, ok := texts[f.SentimentID]; ok {
			continue
		}
		title, reason, err := l.store.GetSentimentText(ctx, f.SentimentID)
		if err != nil {
			l.logger.Debug("skipping feedback without sentiment",
				"sentiment_id", f.SentimentID, "error", err)
			continue
		}
		texts[f.SentimentID] = title + " " + reason
	}

	// Support per n-gram across false positives, and the poison set of
	// n-grams seen in any confirmed negative. The same comment an
	// operator repeats ("广告推广") also counts toward support.
	support := make(map[string]int)
	sourceFeedback := make(map[string]uint64)
	poison := make(map[string]bool)

	for _, f := range feedbacks {
		text, ok := texts[f.SentimentID]
		if !ok {
			continue
		}
		text += " " + f.Comment

		grams := Ngrams(text, l.cfg.NgramMin, l.cfg.NgramMax)
		if f.Judgement {
			for g := range grams {
				poison[g] = true
			}
			continue
		}
		for g := range grams {
			support[g]++
			if _, ok := sourceFeedback[g]; !ok {
				sourceFeedback[g] = f.ID
			}
		}
	}

	candidates := qualify(support, poison, l.cfg.MinSupport)

	for _, gram := range candidates {
		k := support[gram]
		rule := store.Rule{
			Pattern:  gram,
			RuleType: store.RuleTypeKeyword,
			Action:   store.RuleActionSuppress,
			// +1 smoothing keeps confidence under 1 even with zero
			// observed noise.
			Confidence:       float64(k) / float64(k+1),
			Enabled:          true,
			SourceFeedbackID: sourceFeedback[gram],
		}
		if err := l.store.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("promote rule %q: %w", gram, err)
		}
		l.logger.Info("suppression rule promoted",
			"pattern", gram, "support", k, "confidence", rule.Confidence)
	}

	return nil
}
