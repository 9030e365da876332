package oauth

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Issuer:          "http://localhost:8080",
		ConsentPassword: "hunter2",
		ClientsFile:     filepath.Join(t.TempDir(), "clients.json"),
	}
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(testConfig(t))
	require.NoError(t, err)
	return p
}

func testClient() *Client {
	return &Client{
		ClientID:                "client-a",
		ClientName:              "Test Client",
		RedirectURIs:            []string{"https://cb/"},
		TokenEndpointAuthMethod: "none",
	}
}

func TestNewProviderRequiresConsentPassword(t *testing.T) {
	config := testConfig(t)
	config.ConsentPassword = ""

	_, err := NewProvider(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consent password")
}

func TestNewProviderRejectsNonLoopbackHTTP(t *testing.T) {
	config := testConfig(t)
	config.Issuer = "http://example.com"

	_, err := NewProvider(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTPS")
}

func TestConfigTTLFloors(t *testing.T) {
	config := testConfig(t)
	config.PendingTTL = time.Second
	config.AuthCodeTTL = time.Second
	config.AccessTokenTTL = time.Second

	require.NoError(t, config.Validate())

	assert.Equal(t, MinPendingTTL, config.PendingTTL)
	assert.Equal(t, MinAuthorizationCodeTTL, config.AuthCodeTTL)
	assert.Equal(t, MinAccessTokenTTL, config.AccessTokenTTL)
}

func TestAuthorizeReturnsConsentURL(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	consentURL, err := p.Authorize(client, AuthorizationParams{
		RedirectURI: "https://cb/",
		State:       "xyz",
		Scope:       "mail calendar",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(consentURL)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/consent", parsed.Path)

	tx := parsed.Query().Get("tx")
	require.NotEmpty(t, tx)

	pa, ok := p.lookupPending(tx, false)
	require.True(t, ok)
	assert.Equal(t, []string{"mail", "calendar"}, pa.Scopes)
	assert.Equal(t, "xyz", pa.Params.State)
}

func TestPendingExpiresLazily(t *testing.T) {
	p := newTestProvider(t)

	consentURL, err := p.Authorize(testClient(), AuthorizationParams{RedirectURI: "https://cb/"})
	require.NoError(t, err)

	tx := txFromURL(t, consentURL)

	// Age the record past the TTL
	p.mu.Lock()
	p.pending[tx].CreatedAt = time.Now().Add(-p.config.PendingTTL - time.Minute)
	p.mu.Unlock()

	_, ok := p.lookupPending(tx, false)
	assert.False(t, ok)

	// The expired record was purged, not just hidden
	p.mu.RLock()
	_, still := p.pending[tx]
	p.mu.RUnlock()
	assert.False(t, still)
}

func TestExchangeAuthorizationCodeSingleUse(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})

	resp, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "mail", resp.Scope)

	// Second redemption of the same code must fail
	_, err = p.ExchangeAuthorizationCode(client, ac.Code)
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeAuthorizationCodeClientMismatch(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})

	other := &Client{ClientID: "client-b", TokenEndpointAuthMethod: "none"}
	_, err := p.ExchangeAuthorizationCode(other, ac.Code)
	requireOAuthError(t, err, "invalid_grant")
}

func TestLoadAuthorizationCodeExpiry(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})

	p.mu.Lock()
	p.codes[ac.Code].ExpiresAt = time.Now().Add(-time.Second)
	p.mu.Unlock()

	_, ok := p.LoadAuthorizationCode(client, ac.Code)
	assert.False(t, ok)

	// Expired codes cannot be exchanged either
	_, err := p.ExchangeAuthorizationCode(client, ac.Code)
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeRefreshTokenRotates(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail", "calendar"})
	first, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)

	second, err := p.ExchangeRefreshToken(client, first.RefreshToken, []string{"mail"})
	require.NoError(t, err)
	assert.Equal(t, "mail", second.Scope)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The retired refresh token must not work twice
	_, err = p.ExchangeRefreshToken(client, first.RefreshToken, nil)
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeRefreshTokenScopeSubset(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})
	first, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)

	// Requesting a scope outside the original grant fails and the token
	// survives for a later valid exchange
	_, err = p.ExchangeRefreshToken(client, first.RefreshToken, []string{"mail", "calendar"})
	requireOAuthError(t, err, "invalid_scope")

	renewed, err := p.ExchangeRefreshToken(client, first.RefreshToken, nil)
	require.NoError(t, err)
	assert.Equal(t, "mail", renewed.Scope)
}

func TestLoadRefreshTokenNonExpiring(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})
	resp, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)

	rt, ok := p.LoadRefreshToken(client, resp.RefreshToken)
	require.True(t, ok)
	assert.True(t, rt.ExpiresAt.IsZero(), "refresh tokens should not expire unless a TTL is configured")
}

func TestRefreshTokenTTLApplied(t *testing.T) {
	config := testConfig(t)
	config.RefreshTokenTTL = time.Hour
	p, err := NewProvider(config)
	require.NoError(t, err)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})
	resp, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)

	p.mu.Lock()
	p.refreshTokens[resp.RefreshToken].ExpiresAt = time.Now().Add(-time.Second)
	p.mu.Unlock()

	_, ok := p.LoadRefreshToken(client, resp.RefreshToken)
	assert.False(t, ok)
}

func TestLoadAccessTokenExpiryAndRevoke(t *testing.T) {
	p := newTestProvider(t)
	client := testClient()

	ac := mintTestCode(t, p, client, []string{"mail"})
	resp, err := p.ExchangeAuthorizationCode(client, ac.Code)
	require.NoError(t, err)

	at, ok := p.LoadAccessToken(resp.AccessToken)
	require.True(t, ok)
	assert.Equal(t, client.ClientID, at.ClientID)

	p.RevokeToken(resp.AccessToken)
	_, ok = p.LoadAccessToken(resp.AccessToken)
	assert.False(t, ok)

	// Revoking again, or revoking garbage, is a no-op
	p.RevokeToken(resp.AccessToken)
	p.RevokeToken("no-such-token")

	p.RevokeToken(resp.RefreshToken)
	_, ok = p.LoadRefreshToken(client, resp.RefreshToken)
	assert.False(t, ok)
}

func TestResolveScopes(t *testing.T) {
	tests := []struct {
		name           string
		clientScope    string
		requested      string
		defaultScopes  []string
		validScopes    []string
		requiredScopes []string
		want           []string
	}{
		{
			name:        "explicit request wins over client default",
			clientScope: "mail",
			requested:   "calendar",
			want:        []string{"calendar"},
		},
		{
			name:        "client default used when request is silent",
			clientScope: "mail calendar",
			want:        []string{"mail", "calendar"},
		},
		{
			name:          "server default is the last fallback",
			defaultScopes: []string{"mail"},
			want:          []string{"mail"},
		},
		{
			name: "everything empty resolves to no scopes",
			want: nil,
		},
		{
			name:        "valid scopes filter the resolved list",
			requested:   "mail calendar admin",
			validScopes: []string{"mail", "calendar"},
			want:        []string{"mail", "calendar"},
		},
		{
			name:           "required scopes are appended",
			requested:      "mail",
			requiredScopes: []string{"calendar"},
			want:           []string{"mail", "calendar"},
		},
		{
			name:           "required scope survives the filter",
			requested:      "mail",
			validScopes:    []string{"mail"},
			requiredScopes: []string{"calendar"},
			want:           []string{"mail", "calendar"},
		},
		{
			name:           "required only",
			requiredScopes: []string{"calendar"},
			want:           []string{"calendar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			config.DefaultScopes = tt.defaultScopes
			config.ValidScopes = tt.validScopes
			config.RequiredScopes = tt.requiredScopes
			p, err := NewProvider(config)
			require.NoError(t, err)

			client := testClient()
			client.Scope = tt.clientScope

			got := p.resolveScopes(client, tt.requested)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestScopeSubset(t *testing.T) {
	assert.True(t, scopeSubset(nil, []string{"mail"}))
	assert.True(t, scopeSubset([]string{"mail"}, []string{"mail", "calendar"}))
	assert.False(t, scopeSubset([]string{"admin"}, []string{"mail"}))
	assert.False(t, scopeSubset([]string{"mail"}, nil))
}

func TestGenerateSecureTokenLength(t *testing.T) {
	token, err := generateSecureToken(AccessTokenLength)
	require.NoError(t, err)

	// 48 bytes of entropy encode to 64 URL-safe characters
	assert.Len(t, token, 64)
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}

// mintTestCode creates a pending authorization and approves it directly
// through the provider internals
func mintTestCode(t *testing.T, p *Provider, client *Client, scopes []string) *AuthorizationCode {
	t.Helper()

	ac, err := p.mintAuthorizationCode(&PendingAuthorization{
		Client: client,
		Params: AuthorizationParams{
			RedirectURI: "https://cb/",
		},
		Scopes:    scopes,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return ac
}

func txFromURL(t *testing.T, consentURL string) string {
	t.Helper()

	parsed, err := url.Parse(consentURL)
	require.NoError(t, err)
	tx := parsed.Query().Get("tx")
	require.NotEmpty(t, tx)
	return tx
}

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()

	require.Error(t, err)
	oauthErr, ok := err.(*OAuthError)
	require.True(t, ok, "expected *OAuthError, got %T: %v", err, err)
	assert.Equal(t, code, oauthErr.Code)
	assert.True(t, strings.HasPrefix(oauthErr.Error(), code+": "))
}
