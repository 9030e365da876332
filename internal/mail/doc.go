// Package mail implements the iCloud mail backend for icloudmcp.
//
// Messages are read over IMAP (imap.mail.me.com, implicit TLS) and
// submitted over SMTP (smtp.mail.me.com, STARTTLS with PLAIN auth).
// Each operation dials a fresh IMAP connection, logs in, performs the
// command sequence and logs out; iCloud drops idle connections quickly
// enough that pooling them is not worth the reconnect bookkeeping.
//
// Bodies are parsed with go-message; when a message carries only an
// HTML part it is downconverted to plain text for tool output.
package mail
