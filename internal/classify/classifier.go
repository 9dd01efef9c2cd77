package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/store"
)

// Failure reasons recorded on verdicts that never got a usable LLM
// answer. These items persist as non-negative; a fallback heuristic
// must never flip them to negative.
const (
	ReasonParseError     = "parse-error"
	ReasonLLMUnavailable = "llm-unavailable"
)

// Verdict is the typed classification of one article.
type Verdict struct {
	IsNegative bool    `json:"is_negative"`
	Severity   string  `json:"severity"`
	Reason     string  `json:"reason"`
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
}

// Chatter is the LLM capability the classifier needs. Satisfied by
// LLMClient; tests substitute a fake.
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Classifier applies the rule prefilter and drives the LLM for
// articles that pass it.
type Classifier struct {
	llm    Chatter
	logger *slog.Logger
}

// New creates a classifier over the given LLM client.
func New(llm Chatter, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, logger: logger.With("component", "classify")}
}

// Classify produces a verdict for the article under the given rule
// snapshot. LLM unavailability and malformed responses never surface as
// errors — they yield a non-negative verdict with the failure mode in
// Reason, so one bad article cannot halt the tick.
func (c *Classifier) Classify(ctx context.Context, a extract.Article, rules *RuleSet) Verdict {
	matchText := a.Title + "\n" + a.Body

	if pattern, ok := rules.MatchSuppress(matchText); ok {
		c.logger.Debug("article suppressed by rule",
			"pattern", pattern, "url", a.URL)
		return Verdict{
			IsNegative: false,
			Severity:   store.SeverityLow,
			Reason:     "rule:" + pattern,
			Title:      a.Title,
			Confidence: 1,
		}
	}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: classifyPrompt(a.Hospital, a.Source, a.Title, a.Body)},
	}

	content, err := c.llm.Chat(ctx, messages)
	if err != nil {
		c.logger.Warn("LLM call failed", "url", a.URL, "error", err)
		return Verdict{
			IsNegative: false,
			Severity:   store.SeverityLow,
			Reason:     ReasonLLMUnavailable,
			Title:      a.Title,
		}
	}

	verdict, ok := parseVerdict(content)
	if !ok {
		c.logger.Warn("LLM response failed schema parse", "url", a.URL)
		return Verdict{
			IsNegative: false,
			Severity:   store.SeverityLow,
			Reason:     ReasonParseError,
			Title:      a.Title,
		}
	}

	normalize(&verdict, a)

	if pattern, ok := rules.MatchDowngrade(matchText); ok && verdict.Severity == store.SeverityHigh {
		c.logger.Debug("severity capped by downgrade rule",
			"pattern", pattern, "url", a.URL)
		verdict.Severity = store.SeverityMedium
	}

	return verdict
}

// parseVerdict extracts and validates the verdict object from the LLM
// response content. All four fields must be present with the right
// shapes; no fuzzy key inference.
func parseVerdict(content string) (Verdict, bool) {
	raw, ok := ExtractJSONObject(content)
	if !ok {
		return Verdict{}, false
	}

	// Decode into a shape that distinguishes missing fields from
	// zero values.
	var wire struct {
		IsNegative *bool    `json:"is_negative"`
		Severity   *string  `json:"severity"`
		Reason     *string  `json:"reason"`
		Title      *string  `json:"title"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Verdict{}, false
	}
	if wire.IsNegative == nil || wire.Severity == nil || wire.Reason == nil || wire.Title == nil {
		return Verdict{}, false
	}

	v := Verdict{
		IsNegative: *wire.IsNegative,
		Severity:   *wire.Severity,
		Reason:     *wire.Reason,
		Title:      *wire.Title,
	}
	if wire.Confidence != nil {
		v.Confidence = *wire.Confidence
	}
	return v, true
}

// normalize lower-cases the severity (coercing unknown values to low),
// clamps confidence to [0,1], strips whitespace, and backfills the
// title from the article. Degraded articles (failed page fetches) get
// their confidence halved.
func normalize(v *Verdict, a extract.Article) {
	v.Severity = strings.ToLower(strings.TrimSpace(v.Severity))
	if !store.ValidSeverity(v.Severity) {
		v.Severity = store.SeverityLow
	}

	v.Reason = strings.TrimSpace(v.Reason)
	v.Title = strings.TrimSpace(v.Title)
	if v.Title == "" {
		v.Title = a.Title
	}

	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if a.Degraded {
		v.Confidence /= 2
	}
}
