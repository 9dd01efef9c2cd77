package mail

import (
	"strings"
	"testing"
	"time"
)

func TestStableTokenWithUIDValidity(t *testing.T) {
	tok := stableToken(1234, 56, "<m1@vendor.example>", time.Now())
	if tok != "1234:56" {
		t.Errorf("token = %q, want 1234:56", tok)
	}
}

func TestStableTokenFallbackSHA1(t *testing.T) {
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := stableToken(0, 56, "<m1@vendor.example>", date)
	b := stableToken(0, 99, "<m1@vendor.example>", date)
	c := stableToken(0, 56, "<m2@vendor.example>", date)

	if len(a) != 40 {
		t.Errorf("fallback token length = %d, want 40 hex chars", len(a))
	}
	if a != b {
		t.Error("fallback token must not depend on UID")
	}
	if a == c {
		t.Error("different message-ids must yield different tokens")
	}
}

func TestStableTokenFallbackDependsOnDate(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d2 := d1.Add(time.Minute)

	if stableToken(0, 1, "<m@x>", d1) == stableToken(0, 1, "<m@x>", d2) {
		t.Error("different dates must yield different tokens")
	}
}

func TestRawMailBodyPrefersHTML(t *testing.T) {
	m := &RawMail{HTMLBody: "<p>html</p>", TextBody: "plain"}
	if m.Body() != "<p>html</p>" {
		t.Errorf("Body() = %q, want HTML part", m.Body())
	}

	m = &RawMail{TextBody: "plain"}
	if m.Body() != "plain" {
		t.Errorf("Body() = %q, want plain fallback", m.Body())
	}
}

func TestParseBodyMultipart(t *testing.T) {
	raw := strings.Join([]string{
		"From: alerts@vendor.example",
		"To: monitor@example.com",
		"Subject: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="BOUND"`,
		"",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body https://vendor.example/r?id=1",
		"--BOUND",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<a href="https://vendor.example/r?id=1">link</a>`,
		"--BOUND--",
		"",
	}, "\r\n")

	var m RawMail
	if err := parseBody(&m, strings.NewReader(raw)); err != nil {
		t.Fatalf("parseBody: %v", err)
	}

	if !strings.Contains(m.HTMLBody, "vendor.example") {
		t.Errorf("HTMLBody = %q, want link present", m.HTMLBody)
	}
	if !strings.Contains(m.TextBody, "plain body") {
		t.Errorf("TextBody = %q, want plain part", m.TextBody)
	}
	if m.Body() != m.HTMLBody {
		t.Error("Body() must prefer the HTML part")
	}
}
