// Package oauth implements a self-hosted OAuth 2.1 authorization provider
// for the icloudmcp MCP server.
//
// The provider acts as both the authorization server and the resource
// server: it supports Dynamic Client Registration (RFC 7591), the
// authorization code grant with PKCE (RFC 7636) and an interactive
// operator consent step, refresh token rotation, and bearer token
// validation for the MCP endpoint.
//
// Client registrations are persisted to a JSON file so they survive
// restarts. Pending authorizations, authorization codes, access tokens
// and refresh tokens live in memory only and expire lazily: an entry
// past its expiry is purged the moment a lookup touches it. There are
// no background sweeps.
//
// Consent is granted by a single operator who knows a shared password.
// The consent page is served on /oauth/consent and is the only human
// facing surface of the provider.
package oauth
