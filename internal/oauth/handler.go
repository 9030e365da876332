package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Handler exposes the OAuth provider over HTTP. It implements the
// standard authorization server endpoints (metadata, registration,
// authorize, token, revoke) and wires in the provider's own consent
// route.
type Handler struct {
	config      *Config
	provider    *Provider
	rateLimiter *RateLimiter
	logger      *slog.Logger

	// registrationsByIP counts DCR calls per source IP for DoS protection
	regMu             sync.Mutex
	registrationsByIP map[string]int
}

// NewHandler creates the OAuth HTTP handler and its provider
func NewHandler(config *Config) (*Handler, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		config:            config,
		provider:          provider,
		logger:            config.Logger,
		registrationsByIP: make(map[string]int),
	}

	if config.RateLimit.Rate > 0 {
		burst := config.RateLimit.Burst
		if burst == 0 {
			burst = config.RateLimit.Rate * 2
		}
		cleanup := config.RateLimit.CleanupInterval
		if cleanup == 0 {
			cleanup = DefaultRateLimitCleanupInterval
		}
		h.rateLimiter = NewRateLimiter(config.RateLimit.Rate, burst, config.RateLimit.TrustProxy, cleanup)
		h.logger.Info("IP-based rate limiting enabled",
			"rate", config.RateLimit.Rate,
			"burst", burst)
	}

	return h, nil
}

// Provider returns the underlying provider (for testing and middleware)
func (h *Handler) Provider() *Provider {
	return h.provider
}

// Config returns the handler configuration
func (h *Handler) Config() *Config {
	return h.config
}

// RegisterRoutes attaches all OAuth endpoints to the mux, each behind
// the rate limiter when one is configured
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/.well-known/oauth-authorization-server": h.ServeAuthorizationServerMetadata,
		"/.well-known/oauth-protected-resource":   h.ServeProtectedResourceMetadata,
		"/oauth/register":                         h.ServeDynamicClientRegistration,
		"/oauth/authorize":                        h.ServeAuthorization,
		"/oauth/token":                            h.ServeToken,
		"/oauth/revoke":                           h.ServeRevoke,
	}
	for path, handler := range h.provider.Routes() {
		routes[path] = handler
	}

	for path, handler := range routes {
		mux.Handle(path, h.RateLimitMiddleware(handler))
	}
}

// ServeAuthorizationServerMetadata serves the OAuth 2.0 Authorization Server Metadata (RFC 8414)
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata := AuthorizationServerMetadata{
		Issuer:                            h.config.Issuer,
		AuthorizationEndpoint:             h.config.Issuer + "/oauth/authorize",
		TokenEndpoint:                     h.config.Issuer + "/oauth/token",
		RegistrationEndpoint:              h.config.Issuer + "/oauth/register",
		RevocationEndpoint:                h.config.Issuer + "/oauth/revoke",
		ScopesSupported:                   h.config.ValidScopes,
		ResponseTypesSupported:            DefaultResponseTypes,
		GrantTypesSupported:               DefaultGrantTypes,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("failed to encode authorization server metadata", "error", err)
	}
}

// ServeProtectedResourceMetadata serves the OAuth 2.0 Protected Resource Metadata (RFC 9728).
// MCP clients hit this after a 401 to discover the authorization server,
// which is this same process.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metadata := ProtectedResourceMetadata{
		Resource:               h.config.Issuer,
		AuthorizationServers:   []string{h.config.Issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        h.config.ValidScopes,
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("failed to encode protected resource metadata", "error", err)
	}
}

// ServeDynamicClientRegistration handles Dynamic Client Registration (RFC 7591)
func (h *Handler) ServeDynamicClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.config.Registration.AllowPublicRegistration {
		if oauthErr := h.authenticateRegistration(r); oauthErr != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
			return
		}
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid_request", "Failed to parse registration request", http.StatusBadRequest)
		return
	}

	if len(req.RedirectURIs) == 0 {
		h.writeError(w, "invalid_redirect_uri", "At least one redirect_uri is required", http.StatusBadRequest)
		return
	}

	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri, h.config.Issuer); err != nil {
			h.writeError(w, "invalid_redirect_uri", err.Error(), http.StatusBadRequest)
			return
		}
	}

	clientIP := getClientIP(r, h.config.RateLimit.TrustProxy)
	if !h.allowRegistrationFrom(clientIP) {
		h.logger.Warn("client registration limit exceeded",
			"client_ip", clientIP,
			"limit", h.config.Registration.MaxClientsPerIP)
		h.writeError(w, "invalid_request",
			fmt.Sprintf("Client registration limit exceeded for your IP address (%d max)", h.config.Registration.MaxClientsPerIP),
			http.StatusTooManyRequests)
		return
	}

	resp, err := h.registerClient(&req)
	if err != nil {
		h.logger.Error("failed to register client", "error", err)
		h.writeError(w, "server_error", "Failed to register client", http.StatusInternalServerError)
		return
	}

	h.logger.Info("client registered",
		"client_id", resp.ClientID,
		"client_name", resp.ClientName)

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode registration response", "error", err)
	}
}

// authenticateRegistration checks the registration access token
func (h *Handler) authenticateRegistration(r *http.Request) *OAuthError {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ErrInvalidToken("Registration access token required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ErrInvalidToken("Invalid Authorization header format")
	}

	if h.config.Registration.AccessToken == "" {
		h.logger.Error("registration token not configured but public registration is disabled")
		return ErrServerError("Registration is not configured")
	}

	if parts[1] != h.config.Registration.AccessToken {
		return ErrInvalidToken("Invalid registration access token")
	}

	return nil
}

// allowRegistrationFrom enforces the per-IP registration cap
func (h *Handler) allowRegistrationFrom(ip string) bool {
	h.regMu.Lock()
	defer h.regMu.Unlock()

	if h.registrationsByIP[ip] >= h.config.Registration.MaxClientsPerIP {
		return false
	}
	h.registrationsByIP[ip]++
	return true
}

// registerClient mints credentials for a registration request and
// persists the client through the provider
func (h *Handler) registerClient(req *ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	clientID, err := generateSecureToken(ClientIDTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = DefaultGrantTypes
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = DefaultResponseTypes
	}

	now := time.Now()

	client := &Client{
		ClientID:                clientID,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               now.Unix(),
	}

	resp := &ClientRegistrationResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        now.Unix(),
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
	}

	// Confidential clients get a secret; only its bcrypt hash is stored
	if authMethod != "none" {
		secret, err := generateSecureToken(ClientSecretTokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate client secret: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
		resp.ClientSecret = secret
	}

	if err := h.provider.RegisterClient(client); err != nil {
		return nil, err
	}

	return resp, nil
}

// ServeAuthorization handles GET /oauth/authorize. On success the user
// agent is redirected to the consent page; no code is issued yet.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	responseType := query.Get("response_type")
	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")

	if clientID == "" {
		h.writeError(w, "invalid_request", "client_id is required", http.StatusBadRequest)
		return
	}

	client, ok := h.provider.GetClient(clientID)
	if !ok {
		h.writeError(w, "invalid_client", "Invalid client_id", http.StatusUnauthorized)
		return
	}

	if responseType != "" && responseType != "code" {
		h.writeError(w, "unsupported_response_type",
			fmt.Sprintf("Response type %s not supported", responseType), http.StatusBadRequest)
		return
	}

	explicitRedirect := redirectURI != ""
	if explicitRedirect {
		if !client.HasRedirectURI(redirectURI) {
			h.writeError(w, "invalid_request", "redirect_uri not registered for this client", http.StatusBadRequest)
			return
		}
	} else {
		// A single registered URI can be implied; more than one is ambiguous
		if len(client.RedirectURIs) != 1 {
			h.writeError(w, "invalid_request", "redirect_uri is required", http.StatusBadRequest)
			return
		}
		redirectURI = client.RedirectURIs[0]
	}

	// OAuth 2.1: PKCE is mandatory for public clients
	if codeChallenge == "" && client.IsPublic() {
		h.writeError(w, "invalid_request", "PKCE is required for public clients", http.StatusBadRequest)
		return
	}

	if codeChallenge != "" {
		if codeChallengeMethod == "" {
			codeChallengeMethod = "S256"
		}
		if codeChallengeMethod != "S256" {
			h.writeError(w, "invalid_request", "Only the S256 code_challenge_method is supported", http.StatusBadRequest)
			return
		}
	}

	params := AuthorizationParams{
		RedirectURI:                   redirectURI,
		RedirectURIProvidedExplicitly: explicitRedirect,
		State:                         query.Get("state"),
		Scope:                         query.Get("scope"),
		CodeChallenge:                 codeChallenge,
		CodeChallengeMethod:           codeChallengeMethod,
		Resource:                      query.Get("resource"),
	}

	consentURL, err := h.provider.Authorize(client, params)
	if err != nil {
		h.logger.Error("authorize failed", "error", err)
		h.writeError(w, "server_error", "Failed to start authorization", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, consentURL, http.StatusFound)
}

// ServeToken handles POST /oauth/token
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, "invalid_request", "Failed to parse request", http.StatusBadRequest)
		return
	}

	switch grantType := r.FormValue("grant_type"); grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, "unsupported_grant_type",
			fmt.Sprintf("Grant type %s not supported", grantType), http.StatusBadRequest)
	}
}

// handleAuthorizationCodeGrant redeems an authorization code
func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	if code == "" {
		h.writeError(w, "invalid_request", "code is required", http.StatusBadRequest)
		return
	}

	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	authCode, ok := h.provider.LoadAuthorizationCode(client, code)
	if !ok {
		h.writeOAuthError(w, ErrInvalidGrant("Authorization code not found or already used."))
		return
	}

	// The redirect_uri must be replayed when the original request named it
	if authCode.RedirectURIProvidedExplicitly && r.FormValue("redirect_uri") != authCode.RedirectURI {
		h.writeOAuthError(w, ErrInvalidGrant("redirect_uri does not match the authorization request"))
		return
	}

	if authCode.CodeChallenge != "" {
		verifier := r.FormValue("code_verifier")
		if verifier == "" {
			h.writeOAuthError(w, ErrInvalidRequest("code_verifier is required"))
			return
		}
		if !VerifyCodeChallenge(verifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
			h.writeOAuthError(w, ErrInvalidGrant("PKCE verification failed"))
			return
		}
	}

	resp, err := h.provider.ExchangeAuthorizationCode(client, code)
	if err != nil {
		h.writeGrantError(w, err)
		return
	}

	h.writeTokenResponse(w, resp)
}

// handleRefreshTokenGrant rotates a refresh token
func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.writeError(w, "invalid_request", "refresh_token is required", http.StatusBadRequest)
		return
	}

	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	scopes := strings.Fields(r.FormValue("scope"))

	resp, err := h.provider.ExchangeRefreshToken(client, refreshToken, scopes)
	if err != nil {
		h.writeGrantError(w, err)
		return
	}

	h.writeTokenResponse(w, resp)
}

// authenticateClient identifies and authenticates the client calling
// the token endpoint, via HTTP Basic auth or post body credentials.
// Public clients present only their client_id.
func (h *Handler) authenticateClient(r *http.Request) (*Client, *OAuthError) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		// Basic auth credentials are URL-encoded per RFC 6749 2.3.1
		if decoded, err := url.QueryUnescape(basicID); err == nil {
			basicID = decoded
		}
		if decoded, err := url.QueryUnescape(basicSecret); err == nil {
			basicSecret = decoded
		}
		clientID = basicID
		clientSecret = basicSecret
	}

	if clientID == "" {
		return nil, ErrInvalidClient("client_id is required")
	}

	client, ok := h.provider.GetClient(clientID)
	if !ok {
		return nil, ErrInvalidClient("Unknown client")
	}

	if client.IsPublic() {
		return client, nil
	}

	if clientSecret == "" {
		return nil, ErrInvalidClient("client_secret is required")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		h.logger.Warn("client authentication failed", "client_id", clientID)
		return nil, ErrInvalidClient("Invalid client credentials")
	}

	return client, nil
}

// ServeRevoke handles POST /oauth/revoke (RFC 7009). Revocation is
// idempotent: unknown tokens still yield 200.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, "invalid_request", "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	if token == "" {
		h.writeError(w, "invalid_request", "token is required", http.StatusBadRequest)
		return
	}

	h.provider.RevokeToken(token)

	h.setSecurityHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// writeTokenResponse writes a successful token endpoint response
func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode token response", "error", err)
	}
}

// writeGrantError maps a grant exchange error onto the wire
func (h *Handler) writeGrantError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeOAuthError(w, oauthErr)
		return
	}
	h.writeError(w, "server_error", "Grant exchange failed", http.StatusInternalServerError)
}

// writeOAuthError writes a typed OAuth error response
func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

// writeError is a helper to write OAuth error responses
func (h *Handler) writeError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	h.logger.Debug("oauth error", "code", errorCode, "description", description, "status", statusCode)
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            errorCode,
		ErrorDescription: description,
	})
}

// setSecurityHeaders sets security headers on HTTP responses
func (h *Handler) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(h.config.Issuer, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// validateRedirectURI validates a redirect URI according to OAuth 2.0
// Security Best Current Practice
func validateRedirectURI(uri string, issuer string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %s", uri)
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments: %s", uri)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must have a scheme: %s", uri)
	}

	// Custom schemes (native apps) are allowed except for a few that can
	// execute in a browser context
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		switch strings.ToLower(parsed.Scheme) {
		case "javascript", "data", "file", "vbscript", "about":
			return fmt.Errorf("redirect_uri scheme %q is not allowed", parsed.Scheme)
		}
		return nil
	}

	if parsed.Host == "" {
		return fmt.Errorf("http/https redirect_uri must have a host: %s", uri)
	}

	// Loopback redirects stay legal even in production; they cannot be
	// intercepted off-host
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("cannot validate redirect_uri: invalid issuer")
	}
	if !isLoopback(issuerURL.Hostname()) && !isLoopback(parsed.Hostname()) && parsed.Scheme != "https" {
		return fmt.Errorf("redirect_uri must use HTTPS in production: %s", uri)
	}

	return nil
}

// isLoopback checks if a hostname is a loopback address
func isLoopback(hostname string) bool {
	hostname = strings.Trim(hostname, "[]")

	for _, loopback := range LoopbackAddresses {
		if hostname == loopback {
			return true
		}
	}

	return strings.HasPrefix(hostname, "127.")
}
