package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jaytaylor/html2text"
)

// MailboxInfo describes a single mailbox as returned by IMAP LIST.
type MailboxInfo struct {
	Name       string   `json:"name"`
	Attributes []string `json:"attributes,omitempty"`
}

// MessageSummary is the envelope-level view of a message used for
// listings and search results.
type MessageSummary struct {
	UID      uint32    `json:"uid"`
	Mailbox  string    `json:"mailbox"`
	Date     time.Time `json:"date"`
	From     string    `json:"from"`
	Subject  string    `json:"subject"`
	Seen     bool      `json:"seen"`
	Answered bool      `json:"answered"`
	Flagged  bool      `json:"flagged"`
}

// AttachmentInfo describes an attachment without carrying its content.
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message is the full view of a single message.
type Message struct {
	UID         uint32           `json:"uid"`
	Mailbox     string           `json:"mailbox"`
	Date        time.Time        `json:"date"`
	From        string           `json:"from"`
	To          string           `json:"to,omitempty"`
	Cc          string           `json:"cc,omitempty"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// Attachment carries a decoded attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// summaryFromEnvelope builds a MessageSummary from fetched envelope data.
func summaryFromEnvelope(mailbox string, uid imap.UID, env *imap.Envelope, flags []imap.Flag) MessageSummary {
	s := MessageSummary{
		UID:     uint32(uid),
		Mailbox: mailbox,
	}
	if env != nil {
		s.Date = env.Date
		s.Subject = env.Subject
		s.From = formatAddresses(env.From)
	}
	for _, f := range flags {
		switch f {
		case imap.FlagSeen:
			s.Seen = true
		case imap.FlagAnswered:
			s.Answered = true
		case imap.FlagFlagged:
			s.Flagged = true
		}
	}
	return s
}

// formatAddresses renders IMAP envelope addresses as a comma-separated
// RFC 5322 style list.
func formatAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addr := a.Addr()
		if addr == "" {
			continue
		}
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, addr))
		} else {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, ", ")
}

// parseMessage parses a raw RFC 5322 message into a Message. The UID,
// mailbox and flag fields are left for the caller to fill in.
//
// Body selection prefers the first text/plain part. Messages that only
// carry HTML are converted to plain text.
func parseMessage(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	msg := &Message{}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}
	msg.From = headerAddressList(&mr.Header, "From")
	msg.To = headerAddressList(&mr.Header, "To")
	msg.Cc = headerAddressList(&mr.Header, "Cc")

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if gomessage.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case contentType == "text/plain" && textBody == "":
				if b, err := io.ReadAll(part.Body); err == nil {
					textBody = string(b)
				}
			case contentType == "text/html" && htmlBody == "":
				if b, err := io.ReadAll(part.Body); err == nil {
					htmlBody = string(b)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			msg.Attachments = append(msg.Attachments, AttachmentInfo{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	msg.Body = selectBody(textBody, htmlBody)
	return msg, nil
}

// selectBody returns the plain text body, converting HTML when no
// plain part exists.
func selectBody(textBody, htmlBody string) string {
	if textBody != "" {
		return textBody
	}
	if htmlBody == "" {
		return ""
	}
	text, err := html2text.FromString(htmlBody, html2text.Options{TextOnly: true})
	if err != nil {
		return htmlBody
	}
	return text
}

// extractAttachment walks a raw message and returns the attachment part
// whose filename matches name.
func extractAttachment(raw []byte, name string) (*Attachment, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if gomessage.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read message part: %w", err)
		}

		h, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, _ := h.Filename()
		if filename != name {
			continue
		}
		contentType, _, _ := h.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read attachment %q: %w", name, err)
		}
		return &Attachment{
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		}, nil
	}

	return nil, fmt.Errorf("attachment %q not found", name)
}

func headerAddressList(h *mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}
