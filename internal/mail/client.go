package mail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/logging"
)

// Client talks to the iCloud mail servers. It is safe for concurrent
// use; every operation runs on its own IMAP connection.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a mail client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		logger: logging.WithService(cfg.Logger, logging.ServiceIMAP),
	}, nil
}

// SentMailbox returns the configured Sent mailbox name.
func (c *Client) SentMailbox() string { return c.cfg.SentMailbox }

// DraftsMailbox returns the configured Drafts mailbox name.
func (c *Client) DraftsMailbox() string { return c.cfg.DraftsMailbox }

// connect dials the IMAP server and authenticates. The caller must
// close the returned connection.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := imapclient.DialTLS(c.cfg.IMAPServer, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.IMAPServer, err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("login as %s: %w", logging.AnonymizeEmail(c.cfg.Username), err)
	}
	return conn, nil
}

func (c *Client) release(conn *imapclient.Client) {
	if err := conn.Logout().Wait(); err != nil {
		_ = conn.Close()
	}
}

// record emits the operation metric and a structured log line.
func (c *Client) record(ctx context.Context, op string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordICloudOperation(ctx, instrumentation.ServiceIMAP, op, status, time.Since(start))
	}
	c.logger.Debug("imap operation",
		logging.Operation(op),
		logging.Status(status),
		logging.Err(err))
}

// ListMailboxes returns all mailboxes, sorted by name.
func (c *Client) ListMailboxes(ctx context.Context) (infos []MailboxInfo, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationList, start, err) }(time.Now())

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(conn)

	boxes, err := conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	infos = make([]MailboxInfo, 0, len(boxes))
	for _, b := range boxes {
		attrs := make([]string, 0, len(b.Attrs))
		for _, a := range b.Attrs {
			attrs = append(attrs, string(a))
		}
		infos = append(infos, MailboxInfo{Name: b.Mailbox, Attributes: attrs})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ListMessages returns up to limit envelope summaries from the
// mailbox, newest first. With unseenOnly set, only unread messages are
// returned.
func (c *Client) ListMessages(ctx context.Context, mailbox string, limit int, unseenOnly bool) (summaries []MessageSummary, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationList, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}
	if limit <= 0 {
		limit = 20
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(conn)

	sel, err := conn.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	if sel.NumMessages == 0 {
		return nil, nil
	}

	var numSet imap.NumSet
	if unseenOnly {
		data, err := conn.UIDSearch(&imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("search unseen in %s: %w", mailbox, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil, nil
		}
		if len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}
		numSet = imap.UIDSetNum(uids...)
	} else {
		from := uint32(1)
		if sel.NumMessages > uint32(limit) {
			from = sel.NumMessages - uint32(limit) + 1
		}
		var seqSet imap.SeqSet
		seqSet.AddRange(from, sel.NumMessages)
		numSet = seqSet
	}

	msgs, err := conn.Fetch(numSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch envelopes in %s: %w", mailbox, err)
	}

	summaries = make([]MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		summaries = append(summaries, summaryFromEnvelope(mailbox, m.UID, m.Envelope, m.Flags))
	}
	sortNewestFirst(summaries)
	return summaries, nil
}

// SearchOptions narrows a server-side message search.
type SearchOptions struct {
	// Query matches the subject or body text.
	Query string

	// From matches the From header.
	From string

	// SinceDays restricts the search to messages received within the
	// last N days. Zero means no restriction.
	SinceDays int

	// Limit caps the result count. Zero means 20.
	Limit int
}

// SearchMessages runs a server-side IMAP SEARCH and returns envelope
// summaries of the matches, newest first.
func (c *Client) SearchMessages(ctx context.Context, mailbox string, opts SearchOptions) (summaries []MessageSummary, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationSearch, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(conn)

	if _, err := conn.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	data, err := conn.UIDSearch(buildSearchCriteria(opts, time.Now()), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mailbox, err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > opts.Limit {
		uids = uids[len(uids)-opts.Limit:]
	}

	msgs, err := conn.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch search results in %s: %w", mailbox, err)
	}

	summaries = make([]MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		summaries = append(summaries, summaryFromEnvelope(mailbox, m.UID, m.Envelope, m.Flags))
	}
	sortNewestFirst(summaries)
	return summaries, nil
}

// buildSearchCriteria translates SearchOptions into IMAP SEARCH
// criteria. A free-text query matches subject OR body.
func buildSearchCriteria(opts SearchOptions, now time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if opts.SinceDays > 0 {
		criteria.Since = now.AddDate(0, 0, -opts.SinceDays)
	}
	if opts.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: opts.From,
		})
	}
	if opts.Query != "" {
		criteria.Or = append(criteria.Or, [2]imap.SearchCriteria{
			{Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: opts.Query}}},
			{Body: []string{opts.Query}},
		})
	}
	return criteria
}

// GetMessage fetches and parses a single message by UID.
func (c *Client) GetMessage(ctx context.Context, mailbox string, uid uint32) (msg *Message, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationGet, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(conn)

	raw, _, err := fetchRaw(conn, mailbox, uid)
	if err != nil {
		return nil, err
	}

	msg, err = parseMessage(raw)
	if err != nil {
		return nil, err
	}
	msg.UID = uid
	msg.Mailbox = mailbox
	return msg, nil
}

// DownloadAttachment decodes the named attachment of a message and
// writes it into saveDir. It returns the path of the written file.
func (c *Client) DownloadAttachment(ctx context.Context, mailbox string, uid uint32, name, saveDir string) (path string, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationGet, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}
	if strings.ContainsAny(name, `/\`) || name == "" {
		return "", fmt.Errorf("invalid attachment name %q", name)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.release(conn)

	raw, _, err := fetchRaw(conn, mailbox, uid)
	if err != nil {
		return "", err
	}

	att, err := extractAttachment(raw, name)
	if err != nil {
		return "", err
	}

	path = filepath.Join(saveDir, filepath.Base(att.Filename))
	if err := os.WriteFile(path, att.Data, 0o600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// MoveMessage moves a message to another mailbox.
func (c *Client) MoveMessage(ctx context.Context, mailbox string, uid uint32, destination string) (err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationMove, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}
	if destination == "" {
		return fmt.Errorf("destination mailbox is required")
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.release(conn)

	if _, err := conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", mailbox, err)
	}
	if _, err := conn.Move(imap.UIDSetNum(imap.UID(uid)), destination).Wait(); err != nil {
		return fmt.Errorf("move uid %d to %s: %w", uid, destination, err)
	}
	return nil
}

// ArchiveMessage moves a message to the Archive mailbox.
func (c *Client) ArchiveMessage(ctx context.Context, mailbox string, uid uint32) error {
	return c.MoveMessage(ctx, mailbox, uid, c.cfg.ArchiveMailbox)
}

// DeleteMessage moves a message to the Trash mailbox. iCloud keeps
// deleted messages there for its retention window.
func (c *Client) DeleteMessage(ctx context.Context, mailbox string, uid uint32) error {
	return c.MoveMessage(ctx, mailbox, uid, c.cfg.TrashMailbox)
}

// FlagMessage sets or clears the \Seen or \Flagged flag on a message.
// Accepted flag names are "seen" and "flagged".
func (c *Client) FlagMessage(ctx context.Context, mailbox string, uid uint32, flag string, set bool) (err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationFlag, start, err) }(time.Now())

	if mailbox == "" {
		mailbox = DefaultInboxMailbox
	}
	imapFlag, err := flagByName(flag)
	if err != nil {
		return err
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.release(conn)

	if _, err := conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", mailbox, err)
	}

	op := imap.StoreFlagsAdd
	if !set {
		op = imap.StoreFlagsDel
	}
	if err := conn.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{imapFlag},
	}, nil).Close(); err != nil {
		return fmt.Errorf("store flags on uid %d: %w", uid, err)
	}
	return nil
}

// flagByName maps a tool-level flag name to its IMAP flag.
func flagByName(name string) (imap.Flag, error) {
	switch strings.ToLower(name) {
	case "seen":
		return imap.FlagSeen, nil
	case "flagged":
		return imap.FlagFlagged, nil
	default:
		return "", fmt.Errorf("unsupported flag %q (want seen or flagged)", name)
	}
}

// appendMessage APPENDs a raw message to a mailbox with the given flags.
func (c *Client) appendMessage(conn *imapclient.Client, mailbox string, raw []byte, flags []imap.Flag) error {
	cmd := conn.Append(mailbox, int64(len(raw)), &imap.AppendOptions{Flags: flags})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("append to %s: %w", mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append to %s: %w", mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append to %s: %w", mailbox, err)
	}
	return nil
}

// fetchRaw retrieves the full raw body of a message by UID, along with
// its envelope.
func fetchRaw(conn *imapclient.Client, mailbox string, uid uint32) ([]byte, *imap.Envelope, error) {
	if _, err := conn.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	section := &imap.FetchItemBodySection{}
	msgs, err := conn.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("fetch uid %d in %s: %w", uid, mailbox, err)
	}
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("message uid %d not found in %s", uid, mailbox)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, nil, fmt.Errorf("message uid %d in %s has no body", uid, mailbox)
	}
	return raw, msgs[0].Envelope, nil
}

func sortNewestFirst(summaries []MessageSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Date.After(summaries[j].Date)
	})
}
