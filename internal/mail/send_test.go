package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComposeClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{Username: "sender@icloud.com", Password: "app-password"})
	require.NoError(t, err)
	return c
}

func TestComposeMessageRoundTrip(t *testing.T) {
	c := newComposeClient(t)

	raw, err := c.composeMessage(OutgoingMessage{
		To:      []string{"Bob <bob@example.com>"},
		Cc:      []string{"carol@example.com"},
		Subject: "status update",
		Body:    "all green",
	}, "")
	require.NoError(t, err)

	msg, err := parseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "status update", msg.Subject)
	assert.Equal(t, "sender@icloud.com", msg.From)
	assert.Equal(t, "Bob <bob@example.com>", msg.To)
	assert.Equal(t, "carol@example.com", msg.Cc)
	assert.Contains(t, msg.Body, "all green")
}

func TestComposeMessageReplyHeaders(t *testing.T) {
	c := newComposeClient(t)

	raw, err := c.composeMessage(OutgoingMessage{
		To:      []string{"bob@example.com"},
		Subject: "Re: status update",
		Body:    "thanks",
	}, "abc123@example.com")
	require.NoError(t, err)

	assert.Contains(t, string(raw), "In-Reply-To: <abc123@example.com>")
	assert.Contains(t, string(raw), "References: <abc123@example.com>")
	assert.Contains(t, string(raw), "Message-Id: <")
}

func TestComposeMessageRejectsBadAddress(t *testing.T) {
	c := newComposeClient(t)

	_, err := c.composeMessage(OutgoingMessage{
		To:      []string{"not an address"},
		Subject: "x",
	}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: hello", replySubject("hello"))
	assert.Equal(t, "Re: hello", replySubject("Re: hello"))
	assert.Equal(t, "re: hello", replySubject("re: hello"))
}

func TestTrimMsgID(t *testing.T) {
	assert.Equal(t, "id@example.com", trimMsgID("<id@example.com>"))
	assert.Equal(t, "id@example.com", trimMsgID("id@example.com"))
}

func TestHostnameFor(t *testing.T) {
	assert.Equal(t, "icloud.com", hostnameFor("user@icloud.com"))
	assert.Equal(t, "icloudmcp.invalid", hostnameFor("not-an-address"))
}

func TestParseAddressList(t *testing.T) {
	addrs, err := parseAddressList([]string{"Jane <jane@example.com>", "bob@example.com"})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "Jane", addrs[0].Name)
	assert.Equal(t, "jane@example.com", addrs[0].Address)
	assert.Equal(t, "bob@example.com", addrs[1].Address)

	_, err = parseAddressList([]string{"bogus"})
	require.Error(t, err)
}
