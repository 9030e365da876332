package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartFixture = "From: Jane Doe <jane@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Cc: carol@example.com\r\n" +
	"Subject: quarterly numbers\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"numbers attached\r\n" +
	"--b1\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"q4.csv\"\r\n" +
	"\r\n" +
	"a,b\r\n1,2\r\n" +
	"--b1--\r\n"

func TestParseMessageMultipart(t *testing.T) {
	msg, err := parseMessage([]byte(multipartFixture))
	require.NoError(t, err)

	assert.Equal(t, "quarterly numbers", msg.Subject)
	assert.Equal(t, "Jane Doe <jane@example.com>", msg.From)
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, "carol@example.com", msg.Cc)
	assert.Equal(t, "numbers attached", msg.Body)

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "q4.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "text/csv", msg.Attachments[0].ContentType)
	assert.Equal(t, int64(8), msg.Attachments[0].Size)
}

func TestParseMessageHTMLOnly(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: html\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>hello <b>world</b></p></body></html>\r\n"

	msg, err := parseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "hello world")
	assert.NotContains(t, msg.Body, "<p>")
}

func TestExtractAttachment(t *testing.T) {
	att, err := extractAttachment([]byte(multipartFixture), "q4.csv")
	require.NoError(t, err)
	assert.Equal(t, "q4.csv", att.Filename)
	assert.Equal(t, "a,b\r\n1,2", string(att.Data))

	_, err = extractAttachment([]byte(multipartFixture), "missing.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSelectBodyPrefersPlainText(t *testing.T) {
	assert.Equal(t, "plain", selectBody("plain", "<p>html</p>"))
	assert.Contains(t, selectBody("", "<p>html</p>"), "html")
	assert.Equal(t, "", selectBody("", ""))
}

func TestSummaryFromEnvelope(t *testing.T) {
	env := &imap.Envelope{
		Date:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Subject: "hello",
		From:    []imap.Address{{Name: "Jane", Mailbox: "jane", Host: "example.com"}},
	}
	s := summaryFromEnvelope("INBOX", 42, env, []imap.Flag{imap.FlagSeen, imap.FlagFlagged})

	assert.Equal(t, uint32(42), s.UID)
	assert.Equal(t, "INBOX", s.Mailbox)
	assert.Equal(t, "Jane <jane@example.com>", s.From)
	assert.True(t, s.Seen)
	assert.True(t, s.Flagged)
	assert.False(t, s.Answered)
}

func TestFormatAddresses(t *testing.T) {
	addrs := []imap.Address{
		{Name: "Jane", Mailbox: "jane", Host: "example.com"},
		{Mailbox: "bob", Host: "example.com"},
	}
	assert.Equal(t, "Jane <jane@example.com>, bob@example.com", formatAddresses(addrs))
	assert.Equal(t, "", formatAddresses(nil))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	summaries := []MessageSummary{
		{UID: 1, Date: base},
		{UID: 3, Date: base.Add(2 * time.Hour)},
		{UID: 2, Date: base.Add(time.Hour)},
	}
	sortNewestFirst(summaries)
	assert.Equal(t, uint32(3), summaries[0].UID)
	assert.Equal(t, uint32(2), summaries[1].UID)
	assert.Equal(t, uint32(1), summaries[2].UID)
}

func TestFlagByName(t *testing.T) {
	flag, err := flagByName("Seen")
	require.NoError(t, err)
	assert.Equal(t, imap.FlagSeen, flag)

	flag, err = flagByName("flagged")
	require.NoError(t, err)
	assert.Equal(t, imap.FlagFlagged, flag)

	_, err = flagByName("deleted")
	require.Error(t, err)
}

func TestBuildSearchCriteria(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	criteria := buildSearchCriteria(SearchOptions{Query: "invoice", From: "billing@", SinceDays: 30}, now)
	assert.Equal(t, now.AddDate(0, 0, -30), criteria.Since)
	require.Len(t, criteria.Header, 1)
	assert.Equal(t, "From", criteria.Header[0].Key)
	require.Len(t, criteria.Or, 1)
	assert.Equal(t, "Subject", criteria.Or[0][0].Header[0].Key)
	assert.Equal(t, []string{"invoice"}, criteria.Or[0][1].Body)

	empty := buildSearchCriteria(SearchOptions{}, now)
	assert.True(t, empty.Since.IsZero())
	assert.Empty(t, empty.Header)
	assert.Empty(t, empty.Or)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Username: "a@icloud.com", Password: "secret"}
	cfg.applyDefaults()

	assert.Equal(t, DefaultIMAPServer, cfg.IMAPServer)
	assert.Equal(t, DefaultSMTPServer, cfg.SMTPServer)
	assert.Equal(t, "Archive", cfg.ArchiveMailbox)
	assert.Equal(t, "Deleted Messages", cfg.TrashMailbox)
	assert.Equal(t, "Drafts", cfg.DraftsMailbox)
	assert.Equal(t, "Sent Messages", cfg.SentMailbox)
	assert.NotNil(t, cfg.Logger)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg.Username = "a@icloud.com"
	require.Error(t, cfg.Validate())

	cfg.Password = "app-password"
	require.NoError(t, cfg.Validate())
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "username"))
}
