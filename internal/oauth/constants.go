package oauth

import "time"

// Lifetimes for the short-lived artifacts the provider issues. Each TTL
// has a floor so a misconfigured value cannot make the flow unusable.
const (
	// DefaultPendingTTL is how long a consent transaction waits for the
	// operator before it expires (10 minutes)
	DefaultPendingTTL = 10 * time.Minute

	// MinPendingTTL is the floor for the pending transaction TTL
	MinPendingTTL = 1 * time.Minute

	// DefaultAuthorizationCodeTTL is how long authorization codes are valid (10 minutes)
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// MinAuthorizationCodeTTL is the floor for the authorization code TTL
	MinAuthorizationCodeTTL = 1 * time.Minute

	// DefaultAccessTokenTTL is the default access token expiry (1 hour)
	DefaultAccessTokenTTL = 1 * time.Hour

	// MinAccessTokenTTL is the floor for the access token TTL
	MinAccessTokenTTL = 5 * time.Minute

	// DefaultRateLimitCleanupInterval is how often to cleanup inactive rate limiters
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// InactiveLimiterCleanupWindow is the time after which inactive limiters are removed
	InactiveLimiterCleanupWindow = 10 * time.Minute
)

// Token generation constants. Lengths are in bytes of entropy before
// URL-safe base64 encoding.
const (
	// TransactionIDLength is the length of consent transaction ids
	TransactionIDLength = 32

	// AuthorizationCodeLength is the length of generated authorization codes
	AuthorizationCodeLength = 32

	// AccessTokenLength is the length of generated access tokens
	AccessTokenLength = 48

	// RefreshTokenLength is the length of generated refresh tokens
	RefreshTokenLength = 48

	// ClientIDTokenLength is the length of generated client IDs
	ClientIDTokenLength = 32

	// ClientSecretTokenLength is the length of generated client secrets
	ClientSecretTokenLength = 48
)

// PKCE constants (RFC 7636)
const (
	// MinCodeVerifierLength is the minimum length for PKCE code_verifier
	MinCodeVerifierLength = 43

	// MaxCodeVerifierLength is the maximum length for PKCE code_verifier
	MaxCodeVerifierLength = 128
)

// OAuth client and security defaults
const (
	// DefaultMaxClientsPerIP is the default limit for client registrations per IP
	DefaultMaxClientsPerIP = 10

	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20
)

// OAuth grant types and response types
var (
	// DefaultGrantTypes are the grant types supported by default
	DefaultGrantTypes = []string{"authorization_code", "refresh_token"}

	// DefaultResponseTypes are the response types supported by default
	DefaultResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods are the PKCE methods we support
	// Security: Only S256 is allowed. "plain" method is insecure and violates OAuth 2.1
	SupportedCodeChallengeMethods = []string{"S256"}

	// SupportedTokenAuthMethods are the supported token endpoint auth methods
	SupportedTokenAuthMethods = []string{"client_secret_basic", "client_secret_post", "none"}

	// LoopbackAddresses lists recognized loopback addresses for development
	LoopbackAddresses = []string{"localhost", "127.0.0.1", "::1", "[::1]"}
)
