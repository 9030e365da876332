package oauth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startAuthorization(t *testing.T, p *Provider, state string) string {
	t.Helper()

	consentURL, err := p.Authorize(testClient(), AuthorizationParams{
		RedirectURI: "https://cb/",
		State:       state,
		Scope:       "mail calendar",
	})
	require.NoError(t, err)
	return txFromURL(t, consentURL)
}

func getConsent(p *Provider, tx string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/oauth/consent?tx="+url.QueryEscape(tx), nil)
	rec := httptest.NewRecorder()
	p.ServeConsent(rec, req)
	return rec
}

func postConsent(p *Provider, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oauth/consent", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	p.ServeConsent(rec, req)
	return rec
}

func TestConsentPageRendersClientAndScopes(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "xyz")

	rec := getConsent(p, tx)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Test Client")
	assert.Contains(t, body, "https://cb/")
	assert.Contains(t, body, "mail")
	assert.Contains(t, body, "calendar")
	assert.Contains(t, body, `name="tx" value="`+tx+`"`)
}

func TestConsentEscapesClientControlledFields(t *testing.T) {
	p := newTestProvider(t)

	client := testClient()
	client.ClientName = `<script>alert("x")</script>`
	consentURL, err := p.Authorize(client, AuthorizationParams{RedirectURI: "https://cb/"})
	require.NoError(t, err)

	rec := getConsent(p, txFromURL(t, consentURL))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `<script>alert`)
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}

func TestConsentMissingTransactionID(t *testing.T) {
	p := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth/consent", nil)
	rec := httptest.NewRecorder()
	p.ServeConsent(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing transaction id")
}

func TestConsentUnknownTransaction(t *testing.T) {
	p := newTestProvider(t)

	rec := getConsent(p, "bogus")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
	// No redirect to any client redirect URI
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestConsentExpiredTransaction(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "")

	p.mu.Lock()
	p.pending[tx].CreatedAt = time.Now().Add(-p.config.PendingTTL - time.Minute)
	p.mu.Unlock()

	rec := getConsent(p, tx)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Restart the OAuth flow")
}

func TestConsentApprove(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "xyz")

	rec := postConsent(p, url.Values{
		"tx":       {tx},
		"password": {"hunter2"},
		"action":   {"approve"},
	})

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "cb", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// The code is live and bound to the client and resolved scopes
	ac, ok := p.LoadAuthorizationCode(testClient(), code)
	require.True(t, ok)
	assert.Equal(t, []string{"mail", "calendar"}, ac.Scopes)

	// The transaction is consumed
	rec = getConsent(p, tx)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentDeny(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "xyz")

	rec := postConsent(p, url.Values{
		"tx":       {tx},
		"password": {"hunter2"},
		"action":   {"deny"},
	})

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "The resource owner denied the request.", loc.Query().Get("error_description"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	// Deny consumes the transaction too
	rec = getConsent(p, tx)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentWrongPasswordKeepsTransaction(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "xyz")

	rec := postConsent(p, url.Values{
		"tx":       {tx},
		"password": {"wrong"},
		"action":   {"approve"},
	})

	// Re-rendered form with an inline error, no redirect
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Incorrect authorization password.")
	assert.Empty(t, rec.Header().Get("Location"))

	// A retry with the correct password still succeeds
	rec = postConsent(p, url.Values{
		"tx":       {tx},
		"password": {"hunter2"},
		"action":   {"approve"},
	})
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestConsentUnsupportedAction(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "")

	rec := postConsent(p, url.Values{
		"tx":       {tx},
		"password": {"hunter2"},
		"action":   {"maybe"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unsupported action.")

	// Transaction stays usable
	rec = getConsent(p, tx)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConsentTxAcceptedFromQueryOnPost(t *testing.T) {
	p := newTestProvider(t)
	tx := startAuthorization(t, p, "")

	req := httptest.NewRequest(http.MethodPost, "/oauth/consent?tx="+url.QueryEscape(tx),
		strings.NewReader(url.Values{
			"password": {"hunter2"},
			"action":   {"approve"},
		}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	p.ServeConsent(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
}
