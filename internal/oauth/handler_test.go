package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	config := &Config{
		Issuer:          "http://localhost:8080",
		ConsentPassword: "hunter2",
		ClientsFile:     filepath.Join(t.TempDir(), "clients.json"),
		ValidScopes:     []string{"mail", "calendar"},
		Registration:    RegistrationConfig{AllowPublicRegistration: true},
	}
	h, err := NewHandler(config)
	require.NoError(t, err)
	return h
}

func serveMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func postForm(mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func registerTestClient(t *testing.T, mux *http.ServeMux, authMethod string) ClientRegistrationResponse {
	t.Helper()

	body := `{
		"client_name": "mcp-client",
		"redirect_uris": ["http://127.0.0.1:33418/cb"],
		"token_endpoint_auth_method": "` + authMethod + `"
	}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ClientRegistrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ClientID)
	return resp
}

func TestAuthorizationServerMetadata(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var metadata AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, "http://localhost:8080", metadata.Issuer)
	assert.Equal(t, "http://localhost:8080/oauth/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, "http://localhost:8080/oauth/token", metadata.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, metadata.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, metadata.GrantTypesSupported)
}

func TestProtectedResourceMetadata(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var metadata ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, []string{"http://localhost:8080"}, metadata.AuthorizationServers)
	assert.Equal(t, []string{"header"}, metadata.BearerMethodsSupported)
}

func TestRegistrationRequiresRedirectURI(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(`{"client_name": "x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "redirect_uri")
}

func TestRegistrationTokenRequired(t *testing.T) {
	config := &Config{
		Issuer:          "http://localhost:8080",
		ConsentPassword: "hunter2",
		Registration: RegistrationConfig{
			AccessToken: "reg-secret",
		},
	}
	h, err := NewHandler(config)
	require.NoError(t, err)
	mux := serveMux(h)

	body := `{"redirect_uris": ["http://127.0.0.1:9/cb"]}`

	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer reg-secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRegistrationPerIPLimit(t *testing.T) {
	h := newTestHandler(t)
	h.config.Registration.MaxClientsPerIP = 2
	mux := serveMux(h)

	body := `{"redirect_uris": ["http://127.0.0.1:9/cb"]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizeRequiresPKCEForPublicClients(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)
	reg := registerTestClient(t, mux, "none")

	req := httptest.NewRequest(http.MethodGet,
		"/oauth/authorize?client_id="+url.QueryEscape(reg.ClientID)+
			"&redirect_uri="+url.QueryEscape(reg.RedirectURIs[0]), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PKCE")
}

// TestFullAuthorizationCodeFlow walks the whole grant: dynamic
// registration, authorization redirect to consent, operator approval,
// PKCE-verified token exchange, bearer validation, refresh rotation.
func TestFullAuthorizationCodeFlow(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	reg := registerTestClient(t, mux, "none")
	redirectURI := reg.RedirectURIs[0]

	verifier := strings.Repeat("v", 43)
	challenge := ComputeCodeChallenge(verifier)

	// Authorization request redirects the user agent to the consent page
	authzURL := "/oauth/authorize?" + url.Values{
		"client_id":             {reg.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"mail calendar"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode()
	req := httptest.NewRequest(http.MethodGet, authzURL, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	consentURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/oauth/consent", consentURL.Path)
	tx := consentURL.Query().Get("tx")
	require.NotEmpty(t, tx)

	// The consent page renders with the client name
	req = httptest.NewRequest(http.MethodGet, "/oauth/consent?tx="+url.QueryEscape(tx), nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcp-client")

	// Operator approves
	rec = postForm(mux, "/oauth/consent", url.Values{
		"tx":       {tx},
		"password": {"hunter2"},
		"action":   {"approve"},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	cb, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", cb.Query().Get("state"))
	code := cb.Query().Get("code")
	require.NotEmpty(t, code)

	// Token exchange with PKCE verifier
	rec = postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {reg.ClientID},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.Equal(t, "mail calendar", tokens.Scope)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	// Replaying the code fails
	rec = postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {reg.ClientID},
		"code_verifier": {verifier},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")

	// The access token passes bearer validation
	protected := h.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := GetTokenFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, reg.ClientID, token.ClientID)
		w.WriteHeader(http.StatusOK)
	}))
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Refresh rotates the pair
	rec = postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {reg.ClientID},
		"scope":         {"mail"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.Equal(t, "mail", rotated.Scope)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The old refresh token is dead
	rec = postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {reg.ClientID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

func TestTokenExchangeRejectsBadVerifier(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)
	reg := registerTestClient(t, mux, "none")

	client, ok := h.Provider().GetClient(reg.ClientID)
	require.True(t, ok)

	ac, err := h.Provider().mintAuthorizationCode(&PendingAuthorization{
		Client: client,
		Params: AuthorizationParams{
			RedirectURI:         reg.RedirectURIs[0],
			CodeChallenge:       ComputeCodeChallenge(strings.Repeat("v", 43)),
			CodeChallengeMethod: "S256",
		},
		Scopes: []string{"mail"},
	})
	require.NoError(t, err)

	rec := postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {ac.Code},
		"client_id":     {reg.ClientID},
		"code_verifier": {strings.Repeat("w", 43)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PKCE")
}

func TestTokenExchangeConfidentialClient(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)
	reg := registerTestClient(t, mux, "client_secret_post")
	require.NotEmpty(t, reg.ClientSecret)

	client, ok := h.Provider().GetClient(reg.ClientID)
	require.True(t, ok)

	ac, err := h.Provider().mintAuthorizationCode(&PendingAuthorization{
		Client: client,
		Params: AuthorizationParams{RedirectURI: reg.RedirectURIs[0]},
		Scopes: []string{"mail"},
	})
	require.NoError(t, err)

	// Wrong secret is rejected before the code is consumed
	rec := postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {ac.Code},
		"client_id":     {reg.ClientID},
		"client_secret": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postForm(mux, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {ac.Code},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTokenUnsupportedGrantType(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	rec := postForm(mux, "/oauth/token", url.Values{"grant_type": {"password"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported_grant_type")
}

func TestRevokeIsIdempotent(t *testing.T) {
	h := newTestHandler(t)
	mux := serveMux(h)

	rec := postForm(mux, "/oauth/revoke", url.Values{"token": {"unknown"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postForm(mux, "/oauth/revoke", url.Values{"token": {"unknown"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateTokenRejectsMissingAndBogus(t *testing.T) {
	h := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})
	protected := h.ValidateToken(next)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "resource_metadata")

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	config := &Config{
		Issuer:          "http://localhost:8080",
		ConsentPassword: "hunter2",
		Registration:    RegistrationConfig{AllowPublicRegistration: true},
		RateLimit:       RateLimitConfig{Rate: 1, Burst: 2},
	}
	h, err := NewHandler(config)
	require.NoError(t, err)
	mux := serveMux(h)

	var limited bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited, "burst of 2 should throttle within 5 requests")
}
