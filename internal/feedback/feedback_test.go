package feedback

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner("hunter2", time.Hour)
	expiry := time.Now().Add(time.Hour).Unix()

	sig := s.Sign(42, "sent-1", expiry)
	if err := s.Verify(42, "sent-1", expiry, sig); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyTamperedFields(t *testing.T) {
	s := NewSigner("hunter2", time.Hour)
	expiry := time.Now().Add(time.Hour).Unix()
	sig := s.Sign(42, "sent-1", expiry)

	tests := []struct {
		name        string
		queueID     uint64
		sentimentID string
		expiry      int64
	}{
		{"queue_id", 43, "sent-1", expiry},
		{"sentiment_id", 42, "sent-2", expiry},
		{"expiry", 42, "sent-1", expiry + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.queueID, tt.sentimentID, tt.expiry, sig)
			if !errors.Is(err, ErrBadSignature) {
				t.Errorf("tampered %s: err = %v, want ErrBadSignature", tt.name, err)
			}
		})
	}
}

func TestVerifyExpiredBeforeSignatureCheck(t *testing.T) {
	s := NewSigner("hunter2", time.Hour)
	expiry := time.Now().Add(-time.Minute).Unix()
	sig := s.Sign(42, "sent-1", expiry)

	// Even a valid signature on an expired link is rejected as expired.
	if err := s.Verify(42, "sent-1", expiry, sig); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	a := NewSigner("secret-a", time.Hour)
	b := NewSigner("secret-b", time.Hour)
	expiry := time.Now().Add(time.Hour).Unix()

	sig := a.Sign(42, "sent-1", expiry)
	if err := b.Verify(42, "sent-1", expiry, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestBuildURLVerifies(t *testing.T) {
	s := NewSigner("hunter2", time.Hour)

	link := s.BuildURL("https://dash.example.com", 42, "sent-1")
	if !strings.HasPrefix(link, "https://dash.example.com/api/feedback?") {
		t.Fatalf("link = %q", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	q := u.Query()

	queueID, err := strconv.ParseUint(q.Get("queue_id"), 10, 64)
	if err != nil || queueID != 42 {
		t.Fatalf("queue_id = %q", q.Get("queue_id"))
	}
	expiry, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if err != nil {
		t.Fatalf("exp = %q", q.Get("exp"))
	}

	if err := s.Verify(queueID, q.Get("sid"), expiry, q.Get("sig")); err != nil {
		t.Errorf("built link fails verification: %v", err)
	}
}

func TestNgrams(t *testing.T) {
	grams := Ngrams("广告推广 好评", 2, 4)

	for _, want := range []string{"广告", "推广", "广告推广", "好评"} {
		if !grams[want] {
			t.Errorf("missing n-gram %q", want)
		}
	}
	if grams["广 好"] || grams["推广好"] {
		t.Error("n-grams must not span whitespace")
	}
	if grams["广"] {
		t.Error("n-grams below min length must be excluded")
	}
}

func TestNgramsPunctuationBoundary(t *testing.T) {
	grams := Ngrams("广告，推广", 2, 4)
	if grams["告推"] {
		t.Error("n-grams must not span punctuation")
	}
}

func TestQualify(t *testing.T) {
	support := map[string]int{
		"广告推广": 3,
		"广告推":  3,
		"告推广":  3,
		"广告":   5,
		"推广":   3,
		"投诉":   2, // below min support
		"事故":   4, // poisoned
	}
	poison := map[string]bool{"事故": true}

	got := qualify(support, poison, 3)

	keep := make(map[string]bool, len(got))
	for _, g := range got {
		keep[g] = true
	}

	if !keep["广告推广"] {
		t.Error("maximal qualifying gram must be kept")
	}
	if keep["广告推"] || keep["告推广"] || keep["推广"] {
		t.Error("substrings with identical support are redundant")
	}
	if !keep["广告"] {
		t.Error("substring with higher support is independent and must be kept")
	}
	if keep["投诉"] {
		t.Error("grams below min support must not qualify")
	}
	if keep["事故"] {
		t.Error("poisoned grams must not qualify")
	}
}

func TestQualifyDeterministicOrder(t *testing.T) {
	support := map[string]int{"aa": 3, "bb": 3, "cc": 3}

	first := qualify(support, nil, 3)
	for i := 0; i < 5; i++ {
		if got := qualify(support, nil, 3); strings.Join(got, ",") != strings.Join(first, ",") {
			t.Fatalf("order not deterministic: %v vs %v", got, first)
		}
	}
}
