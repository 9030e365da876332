package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Provider is the local OAuth 2.1 authorization provider. It owns the
// client registry and the in-memory stores for pending consent
// transactions, authorization codes, access tokens and refresh tokens.
//
// Expiry is lazy: expired entries are purged when a lookup touches
// them. There are no background sweeps, so a token that is never
// presented again simply lingers until process exit.
type Provider struct {
	config   *Config
	registry *ClientRegistry
	logger   *slog.Logger

	mu            sync.RWMutex
	pending       map[string]*PendingAuthorization
	codes         map[string]*AuthorizationCode
	accessTokens  map[string]*AccessToken
	refreshTokens map[string]*RefreshToken
}

// NewProvider creates a provider from a validated config. The client
// registry file is loaded eagerly so startup fails fast on a corrupt
// store path.
func NewProvider(config *Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid oauth config: %w", err)
	}

	registry, err := NewClientRegistry(config.ClientsFile, config.Logger)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:        config,
		registry:      registry,
		logger:        config.Logger,
		pending:       make(map[string]*PendingAuthorization),
		codes:         make(map[string]*AuthorizationCode),
		accessTokens:  make(map[string]*AccessToken),
		refreshTokens: make(map[string]*RefreshToken),
	}, nil
}

// GetClient returns a registered client by id
func (p *Provider) GetClient(clientID string) (*Client, bool) {
	return p.registry.Get(clientID)
}

// RegisterClient stores a client registration, persisting it to disk
func (p *Provider) RegisterClient(client *Client) error {
	return p.registry.Register(client)
}

// Registry exposes the underlying client registry (for testing)
func (p *Provider) Registry() *ClientRegistry {
	return p.registry
}

// Config returns the provider configuration
func (p *Provider) Config() *Config {
	return p.config
}

// Authorize starts an authorization transaction: it resolves the
// effective scopes, stores a pending record keyed by a fresh random
// transaction id, and returns the consent page URL the user agent
// should be redirected to. No code or token is issued yet.
func (p *Provider) Authorize(client *Client, params AuthorizationParams) (string, error) {
	scopes := p.resolveScopes(client, params.Scope)

	txID, err := generateSecureToken(TransactionIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate transaction id: %w", err)
	}

	p.mu.Lock()
	p.pending[txID] = &PendingAuthorization{
		Client:    client,
		Params:    params,
		Scopes:    scopes,
		CreatedAt: time.Now(),
	}
	p.mu.Unlock()

	p.logger.Info("authorization pending consent",
		"client_id", client.ClientID,
		"scopes", strings.Join(scopes, " "))

	return p.config.Issuer + "/oauth/consent?tx=" + url.QueryEscape(txID), nil
}

// lookupPending returns the pending transaction for the id, evicting it
// if it has outlived PendingTTL. When take is true the record is also
// removed on success (consent decision consumes the transaction).
func (p *Provider) lookupPending(txID string, take bool) (*PendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.pending[txID]
	if !ok {
		return nil, false
	}

	if time.Since(pa.CreatedAt) > p.config.PendingTTL {
		delete(p.pending, txID)
		return nil, false
	}

	if take {
		delete(p.pending, txID)
	}

	return pa, true
}

// mintAuthorizationCode creates and stores a code bound to an approved
// pending transaction
func (p *Provider) mintAuthorizationCode(pa *PendingAuthorization) (*AuthorizationCode, error) {
	code, err := generateSecureToken(AuthorizationCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate authorization code: %w", err)
	}

	ac := &AuthorizationCode{
		Code:                          code,
		ClientID:                      pa.Client.ClientID,
		Scopes:                        pa.Scopes,
		ExpiresAt:                     time.Now().Add(p.config.AuthCodeTTL),
		CodeChallenge:                 pa.Params.CodeChallenge,
		CodeChallengeMethod:           pa.Params.CodeChallengeMethod,
		RedirectURI:                   pa.Params.RedirectURI,
		RedirectURIProvidedExplicitly: pa.Params.RedirectURIProvidedExplicitly,
		Resource:                      pa.Params.Resource,
	}

	p.mu.Lock()
	p.codes[code] = ac
	p.mu.Unlock()

	return ac, nil
}

// LoadAuthorizationCode returns the stored code if it exists, belongs
// to the client and has not expired. Expired entries are purged on
// lookup. The code is not consumed; exchange does that.
func (p *Provider) LoadAuthorizationCode(client *Client, code string) (*AuthorizationCode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ac, ok := p.codes[code]
	if !ok {
		return nil, false
	}

	if time.Now().After(ac.ExpiresAt) {
		delete(p.codes, code)
		return nil, false
	}

	// Client mismatch is indistinguishable from not-found
	if ac.ClientID != client.ClientID {
		return nil, false
	}

	return ac, true
}

// ExchangeAuthorizationCode redeems a code for an access/refresh token
// pair. The code is deleted at the start of the exchange, so at most
// one of two concurrent exchanges for the same code can succeed; the
// loser sees invalid_grant exactly like a replayed code would.
func (p *Provider) ExchangeAuthorizationCode(client *Client, code string) (*TokenResponse, error) {
	p.mu.Lock()
	ac, ok := p.codes[code]
	if ok {
		delete(p.codes, code)
	}
	p.mu.Unlock()

	if !ok || ac.ClientID != client.ClientID || time.Now().After(ac.ExpiresAt) {
		return nil, ErrInvalidGrant("Authorization code not found or already used.")
	}

	resp, err := p.mintTokenPair(ac.ClientID, ac.Scopes, ac.Resource)
	if err != nil {
		return nil, err
	}

	p.logger.Info("authorization code exchanged",
		"client_id", client.ClientID,
		"scope", resp.Scope)

	return resp, nil
}

// LoadRefreshToken returns the stored refresh token if it exists,
// belongs to the client and has not expired. A zero expiry never
// triggers eviction.
func (p *Provider) LoadRefreshToken(client *Client, token string) (*RefreshToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt, ok := p.refreshTokens[token]
	if !ok {
		return nil, false
	}

	if !rt.ExpiresAt.IsZero() && time.Now().After(rt.ExpiresAt) {
		delete(p.refreshTokens, token)
		return nil, false
	}

	if rt.ClientID != client.ClientID {
		return nil, false
	}

	return rt, true
}

// ExchangeRefreshToken rotates a refresh token: the presented token is
// retired and a fresh access/refresh pair is minted for the requested
// scopes. Scopes must be a subset of the original grant; an empty
// request renews the full grant.
func (p *Provider) ExchangeRefreshToken(client *Client, token string, scopes []string) (*TokenResponse, error) {
	p.mu.Lock()
	rt, ok := p.refreshTokens[token]
	if ok && !rt.ExpiresAt.IsZero() && time.Now().After(rt.ExpiresAt) {
		delete(p.refreshTokens, token)
		ok = false
	}
	if ok && rt.ClientID != client.ClientID {
		ok = false
	}
	if ok {
		if !scopeSubset(scopes, rt.Scopes) {
			p.mu.Unlock()
			return nil, ErrInvalidScope("Requested scopes exceed the scope granted by the refresh token.")
		}
		// Rotation: the old token dies before the new pair exists, so no
		// two exchanges can both succeed with the same token
		delete(p.refreshTokens, token)
	}
	p.mu.Unlock()

	if !ok {
		return nil, ErrInvalidGrant("Refresh token not found or expired.")
	}

	granted := scopes
	if len(granted) == 0 {
		granted = rt.Scopes
	}

	resp, err := p.mintTokenPair(rt.ClientID, granted, "")
	if err != nil {
		return nil, err
	}

	p.logger.Info("refresh token rotated",
		"client_id", client.ClientID,
		"scope", resp.Scope)

	return resp, nil
}

// LoadAccessToken validates a bearer token: presence and expiry only.
// No client binding, since the resource server validating the token
// does not know which client it was issued to.
func (p *Provider) LoadAccessToken(token string) (*AccessToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at, ok := p.accessTokens[token]
	if !ok {
		return nil, false
	}

	if time.Now().After(at.ExpiresAt) {
		delete(p.accessTokens, token)
		return nil, false
	}

	return at, true
}

// RevokeToken removes an access or refresh token. Revoking an unknown
// token is a no-op, per RFC 7009.
func (p *Provider) RevokeToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accessTokens[token]; ok {
		delete(p.accessTokens, token)
		p.logger.Info("access token revoked")
		return
	}

	if _, ok := p.refreshTokens[token]; ok {
		delete(p.refreshTokens, token)
		p.logger.Info("refresh token revoked")
	}
}

// Routes returns the extra HTTP handlers the provider contributes
// beyond the standard OAuth endpoints
func (p *Provider) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/oauth/consent": p.ServeConsent,
	}
}

// mintTokenPair creates and stores a new access/refresh token pair
func (p *Provider) mintTokenPair(clientID string, scopes []string, resource string) (*TokenResponse, error) {
	access, err := generateSecureToken(AccessTokenLength)
	if err != nil {
		return nil, ErrServerError("Failed to generate access token")
	}

	refresh, err := generateSecureToken(RefreshTokenLength)
	if err != nil {
		return nil, ErrServerError("Failed to generate refresh token")
	}

	now := time.Now()

	at := &AccessToken{
		Token:     access,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: now.Add(p.config.AccessTokenTTL),
		Resource:  resource,
	}

	rt := &RefreshToken{
		Token:    refresh,
		ClientID: clientID,
		Scopes:   scopes,
	}
	if p.config.RefreshTokenTTL > 0 {
		rt.ExpiresAt = now.Add(p.config.RefreshTokenTTL)
	}

	p.mu.Lock()
	p.accessTokens[access] = at
	p.refreshTokens[refresh] = rt
	p.mu.Unlock()

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.config.AccessTokenTTL.Seconds()),
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// scopeSubset reports whether every requested scope is in granted.
// An empty request is always a subset.
func scopeSubset(requested, granted []string) bool {
	if len(requested) == 0 {
		return true
	}

	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}

	for _, s := range requested {
		if _, ok := have[s]; !ok {
			return false
		}
	}

	return true
}
