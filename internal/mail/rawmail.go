package mail

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	// Registers charset decoders so non-UTF-8 parts (GBK, GB2312, ...)
	// decode per their headers; UTF-8 remains the last resort.
	_ "github.com/emersion/go-message/charset"
)

// maxBodySize caps each decoded MIME part. Vendor notification mails
// are small; anything larger is truncated.
const maxBodySize = 256 * 1024

// maxRawMessageSize caps the buffered RFC822 literal. The remainder of
// an oversized literal is drained to keep the IMAP stream in sync.
const maxRawMessageSize = 5 * 1024 * 1024

// RawMail is one vendor notification as handed to the extractor.
type RawMail struct {
	// Token uniquely identifies the message across polling sessions.
	Token      string
	Subject    string
	Sender     string
	ReceivedAt time.Time

	// HTMLBody is the decoded text/html part, preferred for link
	// extraction. TextBody is the text/plain fallback.
	HTMLBody string
	TextBody string
}

// Body returns the preferred body: HTML when present, else plain text.
func (m *RawMail) Body() string {
	if m.HTMLBody != "" {
		return m.HTMLBody
	}
	return m.TextBody
}

// stableToken derives the dedup token for a message. When the selected
// mailbox reports a UIDVALIDITY, UIDs are stable across sessions and
// the pair is the token. Otherwise fall back to SHA-1 over
// message-id + date.
func stableToken(uidValidity uint32, uid uint32, messageID string, date time.Time) string {
	if uidValidity != 0 {
		return fmt.Sprintf("%d:%d", uidValidity, uid)
	}
	sum := sha1.Sum([]byte(messageID + date.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

// parseBody walks the MIME structure and fills the HTML and text bodies.
//
// go-message's mail.CreateReader and NextPart may return both a valid
// reader/part AND an error when the message uses an unknown charset or
// transfer encoding. Those are non-fatal — the content may be slightly
// garbled but the embedded links still extract.
func parseBody(m *RawMail, r io.Reader) error {
	mailReader, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}
	if mailReader == nil {
		if err != nil {
			return fmt.Errorf("create mail reader returned nil: %w", err)
		}
		return fmt.Errorf("create mail reader returned nil")
	}

	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		var contentType string
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *gomail.AttachmentHeader:
			continue
		default:
			continue
		}

		switch {
		case contentType == "text/html" && m.HTMLBody == "":
			m.HTMLBody = readPart(part.Body)
		case contentType == "text/plain" && m.TextBody == "":
			m.TextBody = readPart(part.Body)
		}
	}

	return nil
}

func readPart(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
