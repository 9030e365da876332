package oauth

import "time"

// Client is a registered OAuth client. Clients are created through
// Dynamic Client Registration and persisted to the client store file;
// re-registration with the same id overwrites the previous record.
type Client struct {
	// ClientID uniquely identifies the client
	ClientID string `json:"client_id"`

	// ClientSecretHash is the bcrypt hash of the client secret.
	// Empty for public clients (token_endpoint_auth_method "none").
	ClientSecretHash string `json:"client_secret_hash,omitempty"`

	// ClientName is the human-readable name shown on the consent page
	ClientName string `json:"client_name,omitempty"`

	// RedirectURIs are the redirect URIs declared at registration
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes are the grant types the client may use
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes are the response types the client may use
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is the client's default scope string (space separated)
	Scope string `json:"scope,omitempty"`

	// TokenEndpointAuthMethod is how the client authenticates at the token endpoint
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// CreatedAt is the registration time (unix seconds)
	CreatedAt int64 `json:"created_at,omitempty"`
}

// IsPublic reports whether the client authenticates without a secret
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == "none" || c.ClientSecretHash == ""
}

// HasRedirectURI reports whether uri is one of the client's registered redirect URIs
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationParams carries the validated parameters of an
// authorization request through the consent flow.
type AuthorizationParams struct {
	// RedirectURI is where the user agent is sent after the consent decision
	RedirectURI string

	// RedirectURIProvidedExplicitly records whether the request named the
	// redirect URI or it was inferred from the client registration
	RedirectURIProvidedExplicitly bool

	// State is the client's opaque CSRF value, echoed back on redirect
	State string

	// Scope is the raw requested scope string (space separated, may be empty)
	Scope string

	// CodeChallenge and CodeChallengeMethod are the PKCE parameters
	CodeChallenge       string
	CodeChallengeMethod string

	// Resource is the RFC 8707 resource indicator, if any
	Resource string
}

// PendingAuthorization is an authorization transaction awaiting the
// operator's consent decision. It is keyed by an opaque random
// transaction id and removed on approve, deny or expiry.
type PendingAuthorization struct {
	Client    *Client
	Params    AuthorizationParams
	Scopes    []string
	CreatedAt time.Time
}

// AuthorizationCode is a single-use grant artifact minted on consent
// approval and consumed by the token endpoint.
type AuthorizationCode struct {
	Code                          string
	ClientID                      string
	Scopes                        []string
	ExpiresAt                     time.Time
	CodeChallenge                 string
	CodeChallengeMethod           string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	Resource                      string
}

// AccessToken is a bearer token accepted by the resource server
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Resource  string
}

// RefreshToken is a rotating token that can mint new access tokens.
// A zero ExpiresAt means the token never expires.
type RefreshToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// TokenResponse is the JSON body returned by the token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// ClientRegistrationRequest represents a Dynamic Client Registration request (RFC 7591)
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// ClientRegistrationResponse represents a Dynamic Client Registration response (RFC 7591)
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource Metadata (RFC 9728)
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
