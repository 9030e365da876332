package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Config holds the configuration for the OAuth provider and handler
type Config struct {
	// Issuer is the base URL of this server, used as the OAuth issuer
	// identifier and to build endpoint URLs (e.g. "http://localhost:8080")
	Issuer string

	// ConsentPassword is the shared secret the operator types on the
	// consent page. Mandatory; the provider refuses to start without it.
	ConsentPassword string

	// ClientsFile is the path of the JSON file client registrations are
	// persisted to. Empty disables persistence (registrations are lost
	// on restart).
	ClientsFile string

	// DefaultScopes are granted when neither the request nor the client
	// declares any scopes
	DefaultScopes []string

	// ValidScopes, if non-empty, restricts resolvable scopes to this set
	ValidScopes []string

	// RequiredScopes are always appended to the resolved scope list
	RequiredScopes []string

	// PendingTTL bounds how long a consent transaction stays valid.
	// Values below MinPendingTTL are raised to the floor.
	PendingTTL time.Duration

	// AuthCodeTTL bounds authorization code validity. Floor MinAuthorizationCodeTTL.
	AuthCodeTTL time.Duration

	// AccessTokenTTL bounds access token validity. Floor MinAccessTokenTTL.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds refresh token validity. Zero means refresh
	// tokens never expire.
	RefreshTokenTTL time.Duration

	// Registration controls Dynamic Client Registration policy
	Registration RegistrationConfig

	// RateLimit controls per-IP rate limiting on the OAuth endpoints
	RateLimit RateLimitConfig

	// Logger is the structured logger; defaults to slog.Default()
	Logger *slog.Logger
}

// RegistrationConfig controls Dynamic Client Registration (RFC 7591)
type RegistrationConfig struct {
	// AllowPublicRegistration permits unauthenticated registration.
	// When false, requests must carry AccessToken as a bearer token.
	AllowPublicRegistration bool

	// AccessToken protects the registration endpoint when public
	// registration is disabled
	AccessToken string

	// MaxClientsPerIP limits registrations per source IP (DoS protection)
	MaxClientsPerIP int
}

// RateLimitConfig controls the per-IP token bucket limiter
type RateLimitConfig struct {
	// Rate is requests per second per IP; zero disables rate limiting
	Rate int

	// Burst is the maximum burst size; defaults to 2x Rate
	Burst int

	// TrustProxy enables use of X-Forwarded-For / X-Real-IP headers
	TrustProxy bool

	// CleanupInterval is how often idle limiters are evicted
	CleanupInterval time.Duration
}

// Validate checks mandatory fields and applies defaults and TTL floors
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	parsed, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	// Allow HTTP only for loopback addresses (development);
	// require HTTPS everywhere else
	if parsed.Scheme != "https" {
		if parsed.Scheme != "http" {
			return fmt.Errorf("issuer must use http or https (got %s://)", parsed.Scheme)
		}
		if !isLoopback(parsed.Hostname()) {
			return fmt.Errorf("issuer must use HTTPS in production (got %s://)", parsed.Scheme)
		}
	}

	if c.ConsentPassword == "" {
		return fmt.Errorf("consent password is required")
	}

	if c.PendingTTL == 0 {
		c.PendingTTL = DefaultPendingTTL
	} else if c.PendingTTL < MinPendingTTL {
		c.PendingTTL = MinPendingTTL
	}

	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = DefaultAuthorizationCodeTTL
	} else if c.AuthCodeTTL < MinAuthorizationCodeTTL {
		c.AuthCodeTTL = MinAuthorizationCodeTTL
	}

	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	} else if c.AccessTokenTTL < MinAccessTokenTTL {
		c.AccessTokenTTL = MinAccessTokenTTL
	}

	// RefreshTokenTTL zero is meaningful: refresh tokens never expire

	if c.Registration.MaxClientsPerIP == 0 {
		c.Registration.MaxClientsPerIP = DefaultMaxClientsPerIP
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
