package oauth

import (
	"crypto/subtle"
	"html/template"
	"net/http"
	"net/url"
	"strings"
)

// consentPage is the operator-facing consent form. All user-controlled
// fields (client name, redirect URI, scopes, error text) pass through
// html/template's contextual escaping.
var consentPage = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Authorize access</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
         background: #f4f5f7; margin: 0; padding: 2rem 1rem; }
  .card { max-width: 26rem; margin: 3rem auto; background: #fff;
          border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.12);
          padding: 2rem; }
  h1 { font-size: 1.25rem; margin: 0 0 1rem; }
  .client { font-weight: 600; }
  .detail { color: #555; font-size: .9rem; word-break: break-all; }
  ul.scopes { padding-left: 1.25rem; }
  ul.scopes li { font-family: ui-monospace, monospace; font-size: .9rem; }
  .error { background: #fdecea; color: #b3261e; border-radius: 4px;
           padding: .5rem .75rem; margin: 1rem 0; font-size: .9rem; }
  input[type=password] { width: 100%; box-sizing: border-box;
           padding: .5rem; margin: .25rem 0 1rem; border: 1px solid #ccc;
           border-radius: 4px; }
  .actions { display: flex; gap: .75rem; }
  button { flex: 1; padding: .6rem; border: 0; border-radius: 4px;
           font-size: 1rem; cursor: pointer; }
  button.approve { background: #1a73e8; color: #fff; }
  button.deny { background: #e8eaed; color: #202124; }
</style>
</head>
<body>
<div class="card">
  <h1>Authorize access</h1>
  <p><span class="client">{{.ClientName}}</span> is requesting access to your mail and calendar.</p>
  <p class="detail">Redirects to: {{.RedirectURI}}</p>
  {{if .Scopes}}
  <p>Requested scopes:</p>
  <ul class="scopes">
    {{range .Scopes}}<li>{{.}}</li>{{end}}
  </ul>
  {{end}}
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  <form method="post" action="/oauth/consent">
    <input type="hidden" name="tx" value="{{.Tx}}">
    <label for="password">Authorization password</label>
    <input type="password" id="password" name="password" autocomplete="current-password" autofocus>
    <div class="actions">
      <button class="approve" type="submit" name="action" value="approve">Allow</button>
      <button class="deny" type="submit" name="action" value="deny">Deny</button>
    </div>
  </form>
</div>
</body>
</html>
`))

// consentPageData feeds the consent template
type consentPageData struct {
	ClientName  string
	RedirectURI string
	Scopes      []string
	Tx          string
	Error       string
}

// ServeConsent handles GET and POST /oauth/consent.
//
// GET renders the consent form for a live transaction. POST applies the
// operator's decision: approve mints an authorization code and
// redirects back to the client, deny redirects back with access_denied.
// A wrong password re-renders the form and keeps the transaction alive
// so the operator can retry within the TTL. An unknown or expired
// transaction gets a plain-text 400 with no redirect, since the
// requesting client never had a chance to consent.
func (p *Provider) ServeConsent(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Query().Get("tx")

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Malformed form submission", http.StatusBadRequest)
			return
		}
		if txID == "" {
			txID = r.PostFormValue("tx")
		}
	}

	if txID == "" {
		http.Error(w, "Missing transaction id", http.StatusBadRequest)
		return
	}

	pa, ok := p.lookupPending(txID, false)
	if !ok {
		http.Error(w, "Authorization request has expired. Restart the OAuth flow.", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		p.renderConsent(w, txID, pa, "")
	case http.MethodPost:
		p.handleConsentDecision(w, r, txID, pa)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConsentDecision validates the password and applies the
// approve/deny action for a live transaction
func (p *Provider) handleConsentDecision(w http.ResponseWriter, r *http.Request, txID string, pa *PendingAuthorization) {
	password := r.PostFormValue("password")
	if subtle.ConstantTimeCompare([]byte(password), []byte(p.config.ConsentPassword)) != 1 {
		p.logger.Warn("consent rejected: wrong password",
			"client_id", pa.Client.ClientID)
		p.renderConsent(w, txID, pa, "Incorrect authorization password.")
		return
	}

	switch r.PostFormValue("action") {
	case "deny":
		// Consumes the transaction even on deny; the client gets a
		// programmatic error instead of an error page
		p.lookupPending(txID, true)
		p.logger.Info("consent denied",
			"client_id", pa.Client.ClientID)
		redirectWithParams(w, r, pa.Params.RedirectURI, url.Values{
			"error":             {"access_denied"},
			"error_description": {"The resource owner denied the request."},
		}, pa.Params.State)

	case "approve":
		if _, ok := p.lookupPending(txID, true); !ok {
			// Lost a race with another decision or with expiry
			http.Error(w, "Authorization request has expired. Restart the OAuth flow.", http.StatusBadRequest)
			return
		}

		ac, err := p.mintAuthorizationCode(pa)
		if err != nil {
			p.logger.Error("failed to mint authorization code", "error", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		p.logger.Info("consent approved",
			"client_id", pa.Client.ClientID,
			"scopes", strings.Join(pa.Scopes, " "))
		redirectWithParams(w, r, pa.Params.RedirectURI, url.Values{
			"code": {ac.Code},
		}, pa.Params.State)

	default:
		p.renderConsent(w, txID, pa, "Unsupported action.")
	}
}

// renderConsent writes the consent page, optionally with an inline error
func (p *Provider) renderConsent(w http.ResponseWriter, txID string, pa *PendingAuthorization, errMsg string) {
	name := pa.Client.ClientName
	if name == "" {
		name = pa.Client.ClientID
	}

	data := consentPageData{
		ClientName:  name,
		RedirectURI: pa.Params.RedirectURI,
		Scopes:      pa.Scopes,
		Tx:          txID,
		Error:       errMsg,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if err := consentPage.Execute(w, data); err != nil {
		p.logger.Error("failed to render consent page", "error", err)
	}
}

// redirectWithParams sends a 302 to the client's redirect URI with the
// given query parameters, echoing the original state when present.
// Caching is disabled so the code or error is never replayed from a
// browser cache.
func redirectWithParams(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	query := target.Query()
	for key, values := range params {
		for _, v := range values {
			query.Set(key, v)
		}
	}
	if state != "" {
		query.Set("state", state)
	}
	target.RawQuery = query.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target.String(), http.StatusFound)
}
