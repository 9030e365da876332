// Package mail_tools provides MCP tools for iCloud mail.
//
// Read tools list mailboxes and messages, run server-side IMAP
// searches and fetch full message bodies. Write tools send and draft
// messages over SMTP, move messages between mailboxes and set flags.
// Archive and delete accept a single UID or an array of UIDs and
// report per-UID results.
package mail_tools
