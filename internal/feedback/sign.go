// Package feedback closes the loop between pushed alerts and user
// judgement: it signs the one-shot feedback links embedded in alerts,
// verifies callbacks, records judgements, and periodically compiles
// recurring false-positive patterns into suppression rules.
package feedback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Verification failures. ErrExpired is checked before any database
// lookup; ErrBadSignature covers any tampered field.
var (
	ErrExpired      = errors.New("feedback link expired")
	ErrBadSignature = errors.New("feedback signature mismatch")
)

// Signer builds and verifies the HMAC that protects feedback links.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer with the shared secret and link TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Sign computes hex(HMAC-SHA256(secret, "queue_id|sentiment_id|expiry")).
func (s *Signer) Sign(queueID uint64, sentimentID string, expiry int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d|%s|%d", queueID, sentimentID, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks expiry first — an expired link is rejected before any
// database work — then compares the signature in constant time.
func (s *Signer) Verify(queueID uint64, sentimentID string, expiry int64, sig string) error {
	if time.Now().Unix() > expiry {
		return ErrExpired
	}

	want := s.Sign(queueID, sentimentID, expiry)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// BuildURL assembles the signed feedback link for an alert. The expiry
// is now + TTL; queue id, sentiment id, and expiry all ride in the
// query so the callback is self-contained.
func (s *Signer) BuildURL(baseURL string, queueID uint64, sentimentID string) string {
	expiry := time.Now().Add(s.ttl).Unix()
	sig := s.Sign(queueID, sentimentID, expiry)

	q := url.Values{}
	q.Set("queue_id", fmt.Sprintf("%d", queueID))
	q.Set("sid", sentimentID)
	q.Set("exp", fmt.Sprintf("%d", expiry))
	q.Set("sig", sig)

	return fmt.Sprintf("%s/api/feedback?%s", baseURL, q.Encode())
}
