package report

import (
	"strings"
	"testing"
	"time"

	"github.com/fusae/mailcheck/internal/store"
)

func TestRenderMarkdown(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2026, 3, 7, 0, 0, 0, 0, time.Local)

	sentiments := []*store.Sentiment{
		{Title: "轻微投诉", Severity: store.SeverityLow, Status: store.StatusActive,
			Source: "weibo", ProcessedAt: start},
		{Title: "病历外泄", Severity: store.SeverityHigh, Status: store.StatusActive,
			Source: "weibo", Reason: "隐私泄露", URL: "https://vendor.example/r?id=1",
			ProcessedAt: start.Add(time.Hour)},
	}

	md := renderMarkdown("XX市第一人民医院", start, end, sentiments)

	if !strings.Contains(md, "# 舆情报告：XX市第一人民医院") {
		t.Error("missing report header")
	}
	if !strings.Contains(md, "舆情总数：2") {
		t.Error("missing total count")
	}
	// High severity items sort first in the digest.
	highIdx := strings.Index(md, "病历外泄")
	lowIdx := strings.Index(md, "轻微投诉")
	if highIdx < 0 || lowIdx < 0 || highIdx > lowIdx {
		t.Error("high severity items must precede low in the digest")
	}
	if !strings.Contains(md, "https://vendor.example/r?id=1") {
		t.Error("missing source link")
	}
}

func TestMarkdownToWordHTML(t *testing.T) {
	html, err := markdownToWordHTML("# 标题\n\n- 条目\n")
	if err != nil {
		t.Fatalf("markdownToWordHTML: %v", err)
	}
	s := string(html)
	if !strings.Contains(s, "<h1") || !strings.Contains(s, "<li>") {
		t.Errorf("rendered HTML missing elements: %s", s)
	}
	if !strings.Contains(s, "schemas-microsoft-com:office:word") {
		t.Error("missing Word envelope")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"XX市第一人民医院", "XX市第一人民医院"},
		{"a/b\\c", "a_b_c"},
		{"../../etc/passwd", "_etc_passwd"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	g := NewGenerator(nil, t.TempDir(), nil)

	for _, name := range []string{"../secret.md", "a/b.md", ".hidden", ""} {
		if _, err := g.Open(name); err == nil {
			t.Errorf("Open(%q) should be rejected", name)
		}
	}
}
