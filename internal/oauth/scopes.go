package oauth

import "strings"

// resolveScopes computes the effective scope list for an authorization
// request. Precedence: scopes named in the request, else the client's
// registered default scope string, else the server's default scopes.
// The result is then filtered down to ValidScopes (when configured)
// and RequiredScopes are appended last, so a required scope survives
// even if the filter would have dropped it.
func (p *Provider) resolveScopes(client *Client, requestedScope string) []string {
	var scopes []string

	switch {
	case strings.TrimSpace(requestedScope) != "":
		scopes = strings.Fields(requestedScope)
	case client != nil && strings.TrimSpace(client.Scope) != "":
		scopes = strings.Fields(client.Scope)
	case len(p.config.DefaultScopes) > 0:
		scopes = append(scopes, p.config.DefaultScopes...)
	}

	if len(p.config.ValidScopes) > 0 {
		valid := make(map[string]struct{}, len(p.config.ValidScopes))
		for _, s := range p.config.ValidScopes {
			valid[s] = struct{}{}
		}

		filtered := scopes[:0]
		for _, s := range scopes {
			if _, ok := valid[s]; ok {
				filtered = append(filtered, s)
			}
		}
		scopes = filtered
	}

	for _, required := range p.config.RequiredScopes {
		present := false
		for _, s := range scopes {
			if s == required {
				present = true
				break
			}
		}
		if !present {
			scopes = append(scopes, required)
		}
	}

	return scopes
}
