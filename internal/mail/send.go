package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
)

// OutgoingMessage describes a message to send or draft.
type OutgoingMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string

	// ReplyToUID threads the message as a reply to an existing message
	// in ReplyMailbox. Zero means a fresh message.
	ReplyToUID   uint32
	ReplyMailbox string
}

// SendMessage submits a message over SMTP and appends a copy to the
// Sent mailbox. It returns the final subject (a reply gets the "Re: "
// prefix when missing).
func (c *Client) SendMessage(ctx context.Context, out OutgoingMessage) (subject string, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationSend, start, err) }(time.Now())

	if len(out.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.release(conn)

	// Resolve reply threading before composing.
	var inReplyTo string
	if out.ReplyToUID != 0 {
		mailbox := out.ReplyMailbox
		if mailbox == "" {
			mailbox = DefaultInboxMailbox
		}
		_, env, err := fetchRaw(conn, mailbox, out.ReplyToUID)
		if err != nil {
			return "", fmt.Errorf("load reply target: %w", err)
		}
		if env != nil {
			inReplyTo = trimMsgID(env.MessageID)
			if out.Subject == "" {
				out.Subject = env.Subject
			}
		}
		out.Subject = replySubject(out.Subject)
	}

	raw, err := c.composeMessage(out, inReplyTo)
	if err != nil {
		return "", err
	}

	rcpts := make([]string, 0, len(out.To)+len(out.Cc)+len(out.Bcc))
	for _, list := range [][]string{out.To, out.Cc, out.Bcc} {
		for _, r := range list {
			addr, err := netmail.ParseAddress(r)
			if err != nil {
				return "", fmt.Errorf("invalid recipient %q: %w", r, err)
			}
			rcpts = append(rcpts, addr.Address)
		}
	}

	auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
	if err := c.submit(c.cfg.SMTPServer, auth, c.cfg.Username, rcpts, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("smtp submit: %w", err)
	}

	// Keep the copy in Sent. iCloud does not do this server-side.
	if err := c.appendMessage(conn, c.cfg.SentMailbox, raw, []imap.Flag{imap.FlagSeen}); err != nil {
		c.logger.Warn("message sent but Sent append failed", "error", err.Error())
	}
	return out.Subject, nil
}

// submit is the SMTP submission hook, replaceable in tests.
func (c *Client) submit(addr string, auth sasl.Client, from string, rcpts []string, r io.Reader) error {
	return smtp.SendMail(addr, auth, from, rcpts, r)
}

// CreateDraft appends an unsent message to the Drafts mailbox.
func (c *Client) CreateDraft(ctx context.Context, out OutgoingMessage) (err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationCreate, start, err) }(time.Now())

	if len(out.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	raw, err := c.composeMessage(out, "")
	if err != nil {
		return err
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.release(conn)

	return c.appendMessage(conn, c.cfg.DraftsMailbox, raw, []imap.Flag{imap.FlagDraft, imap.FlagSeen})
}

// composeMessage renders an RFC 5322 message with a plain text body.
func (c *Client) composeMessage(out OutgoingMessage, inReplyTo string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(out.Subject)

	from := &mail.Address{Address: c.cfg.Username}
	h.SetAddressList("From", []*mail.Address{from})

	to, err := parseAddressList(out.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)

	if len(out.Cc) > 0 {
		cc, err := parseAddressList(out.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}

	if err := h.GenerateMessageIDWithHostname(hostnameFor(c.cfg.Username)); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if inReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{inReplyTo})
		h.SetMsgIDList("References", []string{inReplyTo})
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if _, err := io.WriteString(w, out.Body); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddressList(raw []string) ([]*mail.Address, error) {
	addrs := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		a, err := netmail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", r, err)
		}
		addrs = append(addrs, &mail.Address{Name: a.Name, Address: a.Address})
	}
	return addrs, nil
}

// replySubject prefixes a subject with "Re: " unless it already has
// one, case-insensitively.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// trimMsgID strips the angle brackets from an envelope message id so
// the header writer can add them back.
func trimMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
}

// hostnameFor derives a message-id hostname from the account address.
func hostnameFor(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return address[i+1:]
	}
	return "icloudmcp.invalid"
}
