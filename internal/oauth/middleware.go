package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/snowpost/icloudmcp/internal/logging"
)

// contextKey is the type for context keys
type contextKey string

// tokenContextKey is the key for storing the validated access token in
// the request context
const tokenContextKey contextKey = "oauth_access_token"

// ValidateToken is middleware that validates bearer tokens against the
// provider's access token store. On success the token record is placed
// in the request context for downstream handlers; on failure a 401 with
// a WWW-Authenticate header pointing at the resource metadata is
// returned so MCP clients can discover the authorization server.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm="%s", resource_metadata="/.well-known/oauth-protected-resource"`,
				h.config.Issuer,
			))
			h.writeError(w, "invalid_token", "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm="%s", resource_metadata="/.well-known/oauth-protected-resource", error="invalid_token"`,
				h.config.Issuer,
			))
			h.writeError(w, "invalid_token", "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		token, ok := h.provider.LoadAccessToken(parts[1])
		if !ok {
			h.logger.Debug("rejected bearer token",
				"token", logging.SanitizeToken(parts[1]))
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm="%s", resource_metadata="/.well-known/oauth-protected-resource", error="invalid_token", error_description="The access token is invalid or expired"`,
				h.config.Issuer,
			))
			h.writeError(w, "invalid_token", "The access token is invalid or expired", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTokenFromContext retrieves the validated access token from the
// request context
func GetTokenFromContext(ctx context.Context) (*AccessToken, bool) {
	token, ok := ctx.Value(tokenContextKey).(*AccessToken)
	return token, ok
}
