// Package server wires the MCP server to its surroundings: the shared
// ServerContext with the iCloud protocol clients, health endpoints,
// the dedicated Prometheus metrics listener, and the OAuth-protected
// HTTP transport.
//
// OAuthHTTPServer hosts the local OAuth 2.1 provider and the MCP
// streamable HTTP endpoint on one listener:
//   - Authorization Server Metadata (RFC 8414)
//   - Protected Resource Metadata (RFC 9728)
//   - Dynamic Client Registration (RFC 7591)
//   - Authorization, consent, token and revocation endpoints
//   - /mcp behind bearer-token validation and per-IP rate limiting
//
// Plain HTTP is refused except on loopback hosts; all responses from
// the OAuth endpoints carry security headers. SessionTracker counts
// distinct bearer tokens on the HTTP transport and feeds the
// active-session gauge.
package server
