package extract

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/fusae/mailcheck/internal/browser"
	"github.com/fusae/mailcheck/internal/mail"
)

// MaxArticleBytes caps article body text handed to the classifier.
const MaxArticleBytes = 20000

// Article is one scraped report ready for classification.
type Article struct {
	Hospital string
	Source   string
	Title    string
	URL      string
	Body     string
	// Degraded marks articles whose page fetch failed after retries;
	// the classifier uses it to cut confidence.
	Degraded bool
}

// Extractor scrapes the report pages linked from a mail.
type Extractor struct {
	pool         *browser.Pool
	vendorDomain string
	logger       *slog.Logger
}

// New creates an extractor over the shared browser pool.
func New(pool *browser.Pool, vendorDomain string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		pool:         pool,
		vendorDomain: vendorDomain,
		logger:       logger.With("component", "extract"),
	}
}

// Extract parses the mail, scrapes each vendor link, and returns the
// articles in link order. Page fetches run in parallel on the shared
// browser pool; a page that fails all retries yields a synthetic
// degraded article instead of aborting the mail.
func (e *Extractor) Extract(ctx context.Context, m *mail.RawMail) []Article {
	hospital := HospitalFromMail(m.Subject, m.Body())
	links := CollectLinks(m.HTMLBody, m.TextBody, e.vendorDomain)

	if len(links) == 0 {
		e.logger.Debug("mail carries no vendor links", "token", m.Token)
		return nil
	}

	articles := make([]Article, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			articles[i] = e.fetchArticle(ctx, hospital, link)
		}(i, link)
	}
	wg.Wait()

	return articles
}

func (e *Extractor) fetchArticle(ctx context.Context, hospital, link string) Article {
	a := Article{Hospital: hospital, URL: link}

	page, err := e.pool.Fetch(ctx, link)
	if err != nil {
		e.logger.Warn("page fetch failed, emitting degraded article",
			"url", link, "error", err)
		a.Degraded = true
		return a
	}

	a.Title = page.Title
	a.Source = page.Platform
	a.Body = TruncateBody(page.Text, MaxArticleBytes)
	return a
}

// TruncateBody caps text at max UTF-8 bytes, cutting on a rune boundary
// and appending an ellipsis when truncation happened.
func TruncateBody(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
