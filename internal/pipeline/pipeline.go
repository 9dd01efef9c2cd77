// Package pipeline is the long-running supervisor that drives the
// ingestion flow: poll mail, extract articles, classify, aggregate,
// notify. One tick runs every check interval; rule compilation and
// retention sweeps ride slower cadences between ticks.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fusae/mailcheck/internal/aggregate"
	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/mail"
	"github.com/fusae/mailcheck/internal/notify"
	"github.com/fusae/mailcheck/internal/store"
)

// shutdownGrace bounds how long in-flight tick work may drain after a
// shutdown signal before it is abandoned.
const shutdownGrace = 30 * time.Second

// Stage interfaces let tests drive the supervisor with fakes; the
// production wiring passes the concrete components.

// Poller yields new raw mails.
type Poller interface {
	Poll(ctx context.Context) ([]*mail.RawMail, error)
}

// Extractor scrapes a mail's linked articles.
type Extractor interface {
	Extract(ctx context.Context, m *mail.RawMail) []extract.Article
}

// Classifier produces a verdict per article.
type Classifier interface {
	Classify(ctx context.Context, a extract.Article, rules *classify.RuleSet) classify.Verdict
}

// Aggregator places a verdict into its event group.
type Aggregator interface {
	Aggregate(ctx context.Context, v classify.Verdict, a extract.Article) (*aggregate.Result, error)
}

// Notifier dispatches alerts.
type Notifier interface {
	Notify(ctx context.Context, a notify.Alert)
}

// RuleCompiler is the feedback loop's periodic sweep.
type RuleCompiler interface {
	CompileRules(ctx context.Context) error
}

// RuleSource provides the per-tick suppression snapshot and retention
// operations. Implemented by the store.
type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]*store.Rule, error)
	ListSuppressKeywords(ctx context.Context) ([]string, error)
	DeleteProcessedMailsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireQueueEntries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pipeline owns the supervisor loop.
type Pipeline struct {
	poller     Poller
	extractor  Extractor
	classifier Classifier
	aggregator Aggregator
	notifier   Notifier
	compiler   RuleCompiler
	rules      RuleSource

	tickInterval    time.Duration
	compileInterval time.Duration
	mailRetention   time.Duration
	linkTTL         time.Duration
	pMail           int

	logger *slog.Logger
	wg     sync.WaitGroup
}

// New assembles the supervisor from its stages and configuration.
func New(p Poller, e Extractor, c Classifier, a Aggregator, n Notifier, rc RuleCompiler, rs RuleSource, cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	pMail := cfg.Concurrency.PMail
	if pMail <= 0 {
		pMail = 2
	}
	tick := cfg.Runtime.TickInterval()
	if tick <= 0 {
		tick = 5 * time.Minute
	}
	compile := cfg.Feedback.CompileInterval()
	if compile <= 0 {
		compile = 30 * time.Minute
	}
	return &Pipeline{
		poller:          p,
		extractor:       e,
		classifier:      c,
		aggregator:      a,
		notifier:        n,
		compiler:        rc,
		rules:           rs,
		tickInterval:    tick,
		compileInterval: compile,
		mailRetention:   time.Duration(cfg.Runtime.MailRetentionDays) * 24 * time.Hour,
		linkTTL:         cfg.Feedback.LinkTTL(),
		pMail:           pMail,
		logger:          logger.With("component", "pipeline"),
	}
}

// Run drives ticks until ctx is cancelled, then drains in-flight work
// up to the shutdown grace period. Tick errors never stop the loop.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("pipeline started",
		"tick_interval", p.tickInterval,
		"compile_interval", p.compileInterval,
		"p_mail", p.pMail,
	)

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	compileTicker := time.NewTicker(p.compileInterval)
	defer compileTicker.Stop()
	retentionTicker := time.NewTicker(24 * time.Hour)
	defer retentionTicker.Stop()

	// First tick runs immediately; waiting a full interval after boot
	// only delays alerts.
	p.RunTick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-ticker.C:
			p.RunTick(ctx)
		case <-compileTicker.C:
			if err := p.compiler.CompileRules(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("rule compilation failed", "error", err)
			}
		case <-retentionTicker.C:
			p.runRetention(ctx)
		}
	}
}

// drain waits for in-flight workers up to the grace period.
func (p *Pipeline) drain() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("pipeline drained cleanly")
	case <-time.After(shutdownGrace):
		p.logger.Warn("shutdown grace elapsed, abandoning in-flight work")
	}
}

// RunTick executes one full pipeline pass. Exported so operators can
// trigger an immediate pass and so tests drive ticks directly.
func (p *Pipeline) RunTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()

	ruleSet := p.loadRuleSet(ctx)

	mails, err := p.poller.Poll(ctx)
	if err != nil {
		// Retryable by design: the next tick rescans, and token upserts
		// make partial progress safe.
		p.logger.Error("mail poll failed, ending tick", "error", err)
		return
	}
	if len(mails) == 0 {
		p.logger.Debug("tick complete, no new mail", "duration", time.Since(start))
		return
	}

	sem := make(chan struct{}, p.pMail)
	for _, m := range mails {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		p.wg.Add(1)
		go func(m *mail.RawMail) {
			defer p.wg.Done()
			defer func() { <-sem }()
			p.processMail(ctx, m, ruleSet)
		}(m)
	}

	// The tick owns its mails: wait so the next tick never overlaps
	// this one's aggregation.
	for i := 0; i < cap(sem); i++ {
		sem <- struct{}{}
	}

	p.logger.Info("tick complete",
		"mails", len(mails), "duration", time.Since(start))
}

// loadRuleSet snapshots the suppression rules for this tick. A store
// failure degrades to an empty set rather than blocking ingestion.
func (p *Pipeline) loadRuleSet(ctx context.Context) *classify.RuleSet {
	rules, err := p.rules.ListEnabledRules(ctx)
	if err != nil {
		p.logger.Error("loading suppression rules failed", "error", err)
	}
	keywords, err := p.rules.ListSuppressKeywords(ctx)
	if err != nil {
		p.logger.Error("loading suppress keywords failed", "error", err)
	}
	return classify.NewRuleSet(rules, keywords, p.logger)
}

// processMail runs extraction, classification, and aggregation for one
// mail. Articles scrape in parallel inside the extractor, but are
// classified and aggregated in input order so the first-seen sentiment
// of an event is reproducible. Per-article failures are isolated.
func (p *Pipeline) processMail(ctx context.Context, m *mail.RawMail, ruleSet *classify.RuleSet) {
	articles := p.extractor.Extract(ctx, m)
	if len(articles) == 0 {
		return
	}

	for _, article := range articles {
		if ctx.Err() != nil {
			return
		}

		verdict := p.classifier.Classify(ctx, article, ruleSet)

		res, err := p.aggregator.Aggregate(ctx, verdict, article)
		if err != nil {
			p.logger.Error("aggregation failed",
				"url", article.URL, "error", err)
			continue
		}

		if res.Notify {
			p.notifier.Notify(ctx, notify.Alert{
				SentimentID: res.SentimentID,
				Hospital:    article.Hospital,
				Title:       verdict.Title,
				Severity:    verdict.Severity,
				Source:      article.Source,
				Body:        article.Body,
				Reason:      verdict.Reason,
				URL:         article.URL,
				EventTotal:  res.EventTotal,
			})
		}
	}
}

// runRetention prunes old dedup tokens and expires stale feedback
// queue entries. Failures are logged; retention never blocks ingestion.
func (p *Pipeline) runRetention(ctx context.Context) {
	if n, err := p.rules.DeleteProcessedMailsBefore(ctx, time.Now().Add(-p.mailRetention)); err != nil {
		p.logger.Error("mail retention sweep failed", "error", err)
	} else if n > 0 {
		p.logger.Info("mail retention sweep", "deleted", n)
	}

	if n, err := p.rules.ExpireQueueEntries(ctx, time.Now().Add(-p.linkTTL)); err != nil {
		p.logger.Error("feedback queue expiry failed", "error", err)
	} else if n > 0 {
		p.logger.Info("feedback queue expiry", "expired", n)
	}
}
