package mail

import (
	"fmt"
	"log/slog"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
)

// Default iCloud endpoints and mailbox names. The mailbox names match
// what iCloud provisions for every account; they can be overridden for
// servers that localize them.
const (
	DefaultIMAPServer = "imap.mail.me.com:993"
	DefaultSMTPServer = "smtp.mail.me.com:587"

	DefaultInboxMailbox   = "INBOX"
	DefaultArchiveMailbox = "Archive"
	DefaultTrashMailbox   = "Deleted Messages"
	DefaultDraftsMailbox  = "Drafts"
	DefaultSentMailbox    = "Sent Messages"
)

// Config holds the connection settings for the mail backend.
type Config struct {
	// IMAPServer is the host:port of the IMAP server (implicit TLS).
	IMAPServer string

	// SMTPServer is the host:port of the SMTP submission server (STARTTLS).
	SMTPServer string

	// Username is the Apple ID email address.
	Username string

	// Password is an app-specific password. Regular account passwords
	// do not work against iCloud IMAP/SMTP.
	Password string

	// Special-use mailboxes. Empty values fall back to the iCloud defaults.
	ArchiveMailbox string
	TrashMailbox   string
	DraftsMailbox  string
	SentMailbox    string

	// Logger receives structured operation logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records protocol operation metrics. Optional.
	Metrics *instrumentation.Metrics
}

func (c *Config) applyDefaults() {
	if c.IMAPServer == "" {
		c.IMAPServer = DefaultIMAPServer
	}
	if c.SMTPServer == "" {
		c.SMTPServer = DefaultSMTPServer
	}
	if c.ArchiveMailbox == "" {
		c.ArchiveMailbox = DefaultArchiveMailbox
	}
	if c.TrashMailbox == "" {
		c.TrashMailbox = DefaultTrashMailbox
	}
	if c.DraftsMailbox == "" {
		c.DraftsMailbox = DefaultDraftsMailbox
	}
	if c.SentMailbox == "" {
		c.SentMailbox = DefaultSentMailbox
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that the configuration carries credentials.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("mail: username (Apple ID) is required")
	}
	if c.Password == "" {
		return fmt.Errorf("mail: app-specific password is required")
	}
	return nil
}
