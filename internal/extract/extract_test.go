package extract

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHospitalFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"XX市第一人民医院负面舆情", "XX市第一人民医院"},
		{"【舆情提醒】某县妇幼保健院相关报道", "某县妇幼保健院"},
		{"关于某某卫生院的网络信息", "某某卫生院"},
		{"平安医疗中心舆情日报", "平安医疗中心"},
		{"无关主题", UnknownHospital},
		{"", UnknownHospital},
	}

	for _, tt := range tests {
		if got := HospitalFromSubject(tt.subject); got != tt.want {
			t.Errorf("HospitalFromSubject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestHospitalFromMailPrefersLabelledLine(t *testing.T) {
	body := "尊敬的用户：\n医院：YY市中心医院\n详情见链接。"
	got := HospitalFromMail("XX市第一人民医院负面舆情", body)
	if got != "YY市中心医院" {
		t.Errorf("HospitalFromMail = %q, want labelled body value", got)
	}
}

func TestHospitalFromMailFallsBackToSubject(t *testing.T) {
	got := HospitalFromMail("XX市第一人民医院负面舆情", "正文没有标签行")
	if got != "XX市第一人民医院" {
		t.Errorf("HospitalFromMail = %q, want subject value", got)
	}
}

func TestNormalizeHospital(t *testing.T) {
	if got := NormalizeHospital("  XX市 第一人民医院 "); got != "XX市第一人民医院" {
		t.Errorf("NormalizeHospital = %q", got)
	}
}

func TestCollectLinksFromAnchorsAndText(t *testing.T) {
	htmlBody := `<p>详情：<a href="https://vendor.example/r?id=1">报告一</a>
		<a href="https://other.example/x">无关</a></p>`
	textBody := "备用链接 https://vendor.example/r?id=2 请查收"

	links := CollectLinks(htmlBody, textBody, "vendor.example")

	want := []string{"https://vendor.example/r?id=1", "https://vendor.example/r?id=2"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestCollectLinksDeduplicates(t *testing.T) {
	htmlBody := `<a href="https://vendor.example/r?id=1">a</a>
		<a href="https://vendor.example/r?id=1">b</a>`

	links := CollectLinks(htmlBody, "https://vendor.example/r?id=1", "vendor.example")
	if len(links) != 1 {
		t.Errorf("links = %v, want one entry", links)
	}
}

func TestCollectLinksAcceptsSubdomain(t *testing.T) {
	links := CollectLinks("", "https://push.vendor.example/r?id=3", "vendor.example")
	if len(links) != 1 {
		t.Errorf("links = %v, want subdomain accepted", links)
	}
}

func TestCollectLinksRejectsNonHTTP(t *testing.T) {
	links := CollectLinks(`<a href="mailto:x@y.example">m</a><a href="javascript:void(0)">j</a>`, "", "")
	if len(links) != 0 {
		t.Errorf("links = %v, want none", links)
	}
}

func TestTruncateBodyRuneSafe(t *testing.T) {
	text := strings.Repeat("医", 100) // 3 bytes per rune

	got := TruncateBody(text, 10)
	if !utf8.ValidString(got) {
		t.Error("truncated text must stay valid UTF-8")
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated text must end with ellipsis")
	}
	// 10 bytes truncates to 3 complete runes (9 bytes) + ellipsis.
	if utf8.RuneCountInString(strings.TrimSuffix(got, "…")) != 3 {
		t.Errorf("got %d runes before ellipsis, want 3",
			utf8.RuneCountInString(strings.TrimSuffix(got, "…")))
	}
}

func TestTruncateBodyShortPassthrough(t *testing.T) {
	if got := TruncateBody("short", 100); got != "short" {
		t.Errorf("TruncateBody = %q, want passthrough", got)
	}
}
