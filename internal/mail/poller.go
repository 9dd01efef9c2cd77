package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Deduper records processed-mail tokens. Implemented by the store; the
// at-most-once guarantee for mail handling lives there.
type Deduper interface {
	UpsertProcessedMail(ctx context.Context, token, hospital string, emailDate time.Time) (bool, error)
}

// HospitalParser extracts the hospital name from a mail subject. Wired
// to the extractor so the dedup record carries the hospital even before
// the body is scraped.
type HospitalParser func(subject string) string

// Poller fetches new matching mails from the vendor mailbox. It is
// infrastructure code driven by the pipeline supervisor, not a
// standalone loop.
type Poller struct {
	client        *Client
	dedup         Deduper
	parseHospital HospitalParser
	logger        *slog.Logger
}

// NewPoller creates a poller over the given client and dedup store.
func NewPoller(client *Client, dedup Deduper, parseHospital HospitalParser, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if parseHospital == nil {
		parseHospital = func(string) string { return "" }
	}
	return &Poller{
		client:        client,
		dedup:         dedup,
		parseHospital: parseHospital,
		logger:        logger.With("component", "poller"),
	}
}

// Poll returns the new (never-before-processed) mails in the mailbox,
// oldest first. Already-processed tokens are skipped without fetching
// their bodies. An empty mailbox is a normal empty result, not an
// error; network failures surface as retryable errors and terminate
// the tick, with partial progress preserved by the per-token upserts.
func (p *Poller) Poll(ctx context.Context) ([]*RawMail, error) {
	envelopes, err := p.client.ListUnseen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unseen: %w", err)
	}
	if len(envelopes) == 0 {
		return nil, nil
	}

	var out []*RawMail
	for _, env := range envelopes {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		token := stableToken(env.UIDValidity, env.UID, env.MessageID, env.Date)
		hospital := p.parseHospital(env.Subject)

		inserted, err := p.dedup.UpsertProcessedMail(ctx, token, hospital, env.Date)
		if err != nil {
			return out, fmt.Errorf("upsert token %s: %w", token, err)
		}
		if !inserted {
			p.logger.Debug("skipping already-processed mail",
				"token", token, "subject", env.Subject)
			continue
		}

		raw := &RawMail{
			Token:      token,
			Subject:    env.Subject,
			Sender:     env.From,
			ReceivedAt: env.Date,
		}
		if err := p.client.FetchBody(ctx, env.UID, raw); err != nil {
			// The token is already recorded; a body fetch failure for
			// one mail must not abort the rest of the batch.
			p.logger.Warn("body fetch failed", "uid", env.UID, "error", err)
			continue
		}

		p.logger.Info("new mail polled",
			"token", token, "subject", env.Subject, "from", env.From)
		out = append(out, raw)
	}

	return out, nil
}
