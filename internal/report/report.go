// Package report renders review bundles for a hospital and date range.
// The markdown renderer is the native format; the word format wraps the
// goldmark-rendered HTML in a Word-compatible document.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/fusae/mailcheck/internal/store"
)

// Formats accepted by Generate.
const (
	FormatMarkdown = "markdown"
	FormatWord     = "word"
)

// reportSentimentCap bounds how many sentiments a bundle lists.
const reportSentimentCap = 200

// Generator renders report files into the configured directory.
type Generator struct {
	store  *store.Store
	dir    string
	logger *slog.Logger
}

// NewGenerator creates a generator writing into dir.
func NewGenerator(st *store.Store, dir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: st, dir: dir, logger: logger.With("component", "report")}
}

// Generate renders the bundle and returns the generated filename
// (relative to the reports directory).
func (g *Generator) Generate(ctx context.Context, hospital string, start, end time.Time, format string) (string, error) {
	if format != FormatMarkdown && format != FormatWord {
		return "", fmt.Errorf("unsupported format %q", format)
	}

	sentiments, err := g.store.ListSentiments(ctx, store.SentimentFilter{
		Status:   "all",
		Hospital: hospital,
		From:     start,
		To:       end.Add(24 * time.Hour), // end date inclusive
		Limit:    reportSentimentCap,
	})
	if err != nil {
		return "", fmt.Errorf("load sentiments: %w", err)
	}

	md := renderMarkdown(hospital, start, end, sentiments)

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	base := fmt.Sprintf("report_%s_%s_%s",
		sanitizeFilename(hospital),
		start.Format("20060102"),
		end.Format("20060102"))

	var filename string
	var content []byte
	switch format {
	case FormatMarkdown:
		filename = base + ".md"
		content = []byte(md)
	case FormatWord:
		filename = base + ".doc"
		html, err := markdownToWordHTML(md)
		if err != nil {
			return "", fmt.Errorf("render word document: %w", err)
		}
		content = html
	}

	path := filepath.Join(g.dir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	g.logger.Info("report generated",
		"hospital", hospital, "file", filename, "sentiments", len(sentiments))
	return filename, nil
}

// Open streams a previously generated report. The filename must be a
// bare name inside the reports directory; anything resembling path
// traversal is rejected.
func (g *Generator) Open(filename string) (*os.File, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return nil, fmt.Errorf("invalid report filename %q", filename)
	}
	return os.Open(filepath.Join(g.dir, filename))
}

// renderMarkdown builds the markdown bundle: summary header, severity
// breakdown, and the sentiment digest.
func renderMarkdown(hospital string, start, end time.Time, sentiments []*store.Sentiment) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# 舆情报告：%s\n\n", hospital)
	fmt.Fprintf(&b, "统计区间：%s 至 %s\n\n", start.Format("2006-01-02"), end.Format("2006-01-02"))

	bySeverity := map[string]int{}
	active := 0
	for _, s := range sentiments {
		bySeverity[s.Severity]++
		if s.Status == store.StatusActive {
			active++
		}
	}

	fmt.Fprintf(&b, "## 概览\n\n")
	fmt.Fprintf(&b, "- 舆情总数：%d（未处理 %d）\n", len(sentiments), active)
	for _, sev := range []string{store.SeverityHigh, store.SeverityMedium, store.SeverityLow} {
		fmt.Fprintf(&b, "- %s：%d\n", sev, bySeverity[sev])
	}
	b.WriteString("\n## 明细\n\n")

	ordered := make([]*store.Sentiment, len(sentiments))
	copy(ordered, sentiments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return store.SeverityRank(ordered[i].Severity) > store.SeverityRank(ordered[j].Severity)
	})

	for _, s := range ordered {
		fmt.Fprintf(&b, "### %s\n\n", s.Title)
		fmt.Fprintf(&b, "- 严重程度：%s\n", s.Severity)
		fmt.Fprintf(&b, "- 来源平台：%s\n", s.Source)
		fmt.Fprintf(&b, "- 状态：%s\n", s.Status)
		fmt.Fprintf(&b, "- 时间：%s\n", s.ProcessedAt.Format("2006-01-02 15:04"))
		if s.Reason != "" {
			fmt.Fprintf(&b, "- 判定理由:%s\n", s.Reason)
		}
		if s.URL != "" {
			fmt.Fprintf(&b, "- 链接：%s\n", s.URL)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// wordHeader/wordFooter wrap HTML so Word opens the .doc directly.
const wordHeader = `<html xmlns:o="urn:schemas-microsoft-com:office:office" xmlns:w="urn:schemas-microsoft-com:office:word">
<head><meta charset="utf-8"><title>舆情报告</title></head><body>`
const wordFooter = `</body></html>`

// markdownToWordHTML renders markdown to HTML via goldmark and wraps it
// in the Word envelope.
func markdownToWordHTML(md string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(wordHeader)
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return nil, err
	}
	buf.WriteString(wordFooter)
	return buf.Bytes(), nil
}

var unsafeFilenameRe = regexp.MustCompile(`[^\p{Han}A-Za-z0-9_-]+`)

// sanitizeFilename keeps hospital names filesystem-safe.
func sanitizeFilename(s string) string {
	s = unsafeFilenameRe.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
