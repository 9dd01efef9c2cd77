// Package mail polls the vendor notification mailbox over IMAP and
// emits raw mail records for the extraction pipeline. Messages are
// never marked as read on the server; idempotent rescans backed by the
// processed-mail token table are the correctness safeguard.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fusae/mailcheck/internal/config"
)

// Client is a single-account IMAP client that wraps go-imap/v2 with
// automatic reconnection and mutex-serialized access. All public
// methods are goroutine-safe.
type Client struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client

	// selectedUIDValidity is captured on mailbox select and feeds the
	// stable dedup token.
	selectedUIDValidity uint32
}

// NewClient creates an IMAP client for the configured account. The
// connection is established lazily on first use.
func NewClient(cfg config.EmailConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "imap"),
	}
}

// connectLocked performs the actual connection. Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	// Close any existing stale connection.
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.IMAPServer, fmt.Sprintf("%d", c.cfg.IMAPPort))

	opts := imapclient.Options{
		TLSConfig: &tls.Config{ServerName: c.cfg.IMAPServer},
	}

	c.logger.Debug("connecting to IMAP server", "host", c.cfg.IMAPServer, "port", c.cfg.IMAPPort)

	client, err := imapclient.DialTLS(addr, &opts)
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	loginCmd := client.Login(c.cfg.EmailAddress, c.cfg.AppPassword)
	if err := loginCmd.Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.EmailAddress, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.cfg.IMAPServer, "user", c.cfg.EmailAddress)
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
// Caller must hold c.mu.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.client != nil {
		// Quick liveness check via NOOP.
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.IMAPServer)
	}
	return c.connectLocked(ctx)
}

// Ping checks that the IMAP connection is alive. Used by the health
// endpoint.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected(ctx)
}

// Close logs out and closes the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

// selectMailbox selects the configured mailbox. When the server refuses
// to enter SELECTED state for the configured name, the mailboxes are
// listed and the first whose decoded name contains "INBOX" is used
// instead. Caller must hold c.mu.
func (c *Client) selectMailbox() error {
	name := c.cfg.Mailbox
	if name == "" {
		name = "INBOX"
	}

	data, err := c.client.Select(name, nil).Wait()
	if err == nil {
		c.selectedUIDValidity = data.UIDValidity
		return nil
	}

	c.logger.Warn("select failed, falling back to mailbox discovery",
		"mailbox", name, "error", err)

	fallback, ferr := c.findInboxLocked()
	if ferr != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}

	data, err = c.client.Select(fallback, nil).Wait()
	if err != nil {
		return fmt.Errorf("select fallback %s: %w", fallback, err)
	}
	c.selectedUIDValidity = data.UIDValidity
	c.logger.Info("selected fallback mailbox", "mailbox", fallback)
	return nil
}

// findInboxLocked lists mailboxes and returns the first selectable one
// whose decoded name contains "INBOX" (case-insensitive).
func (c *Client) findInboxLocked() (string, error) {
	mailboxes, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return "", fmt.Errorf("list mailboxes: %w", err)
	}

	for _, mbox := range mailboxes {
		noselect := false
		for _, attr := range mbox.Attrs {
			if attr == imap.MailboxAttrNoSelect {
				noselect = true
				break
			}
		}
		if noselect {
			continue
		}
		if strings.Contains(strings.ToUpper(mbox.Mailbox), "INBOX") {
			return mbox.Mailbox, nil
		}
	}
	return "", fmt.Errorf("no mailbox containing INBOX found among %d mailboxes", len(mailboxes))
}

// searchUnseen returns UIDs of unseen messages from the configured
// sender, oldest first. Caller must hold c.mu and have a selected
// mailbox.
func (c *Client) searchUnseen() ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if c.cfg.Rules.Sender != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: c.cfg.Rules.Sender},
		}
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	return searchData.AllUIDs(), nil
}
