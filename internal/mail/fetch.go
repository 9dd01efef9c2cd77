package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Envelope is the lightweight view of an unseen message, fetched before
// the dedup check so already-processed mail never pays for a full body
// fetch.
type Envelope struct {
	UID         uint32
	UIDValidity uint32
	Subject     string
	From        string
	MessageID   string
	Date        time.Time
}

// ListUnseen selects the mailbox and returns envelopes of unseen
// messages from the configured sender, oldest first.
func (c *Client) ListUnseen(ctx context.Context) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if err := c.selectMailbox(); err != nil {
		return nil, err
	}

	uids, err := c.searchUnseen()
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}
	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var env Envelope
		env.UIDValidity = c.selectedUIDValidity
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				env.UID = uint32(data.UID)
			case imapclient.FetchItemDataEnvelope:
				if data.Envelope != nil {
					env.Subject = data.Envelope.Subject
					env.MessageID = data.Envelope.MessageID
					env.Date = data.Envelope.Date
					if len(data.Envelope.From) > 0 {
						env.From = data.Envelope.From[0].Addr()
					}
				}
			case imapclient.FetchItemDataBodySection:
				drainLiteral(data.Literal)
			}
		}

		if env.UID == 0 {
			c.logger.Debug("skipping message without UID")
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	return envelopes, nil
}

// FetchBody fetches and MIME-decodes the full message for uid. The body
// section is fetched with PEEK so the server never flags the message as
// seen.
func (c *Client) FetchBody(ctx context.Context, uid uint32, into *RawMail) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	fetchOpts := &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true}, // idempotent rescans depend on \Seen staying unset
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return fmt.Errorf("message UID %d not found", uid)
	}

	var rawBody []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if data, ok := item.(imapclient.FetchItemDataBodySection); ok {
			// Consume the literal immediately. go-imap/v2 streams data
			// from the IMAP connection; msg.Next() advances past unread
			// literals, so deferring the read would lose the body data.
			if data.Literal == nil {
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			drainLiteral(data.Literal)
			if readErr != nil {
				c.logger.Debug("error reading body literal", "uid", uid, "error", readErr)
				rawBody = nil
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetch message UID %d: %w", uid, err)
	}

	if rawBody != nil {
		if err := parseBody(into, bytes.NewReader(rawBody)); err != nil {
			c.logger.Debug("body parse error", "uid", uid, "error", err)
		}
	}
	return nil
}

// drainLiteral reads any remaining literal data so the IMAP stream
// stays in sync.
func drainLiteral(r io.Reader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}
