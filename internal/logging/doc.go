// Package logging provides structured logging helpers for icloudmcp.
//
// Everything logs through the standard library's slog package; this
// package only supplies consistent attribute names and sanitizers so
// the same keys show up across the OAuth provider, the protocol
// clients and the MCP tools.
//
// Sensitive values never hit the log as-is: account emails are hashed
// with AnonymizeEmail and tokens are reduced to a length indicator
// with SanitizeToken.
package logging
