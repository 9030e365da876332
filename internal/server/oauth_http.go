package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/oauth"
)

// OAuthHTTPServer serves the MCP streamable HTTP transport behind the
// local OAuth 2.1 provider. The provider's endpoints (metadata,
// registration, authorize, token, revoke, consent) and the protected
// /mcp endpoint share one listener.
type OAuthHTTPServer struct {
	mcpServer    *mcpserver.MCPServer
	oauthHandler *oauth.Handler
	httpServer   *http.Server

	metrics  *instrumentation.Metrics
	health   *HealthChecker
	sessions *SessionTracker

	disableStreaming bool
}

// NewOAuthHTTPServer creates an OAuth-enabled HTTP server for MCP.
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, cfg *oauth.Config) (*OAuthHTTPServer, error) {
	handler, err := oauth.NewHandler(cfg)
	if err != nil {
		return nil, fmt.Errorf("create oauth handler: %w", err)
	}
	return &OAuthHTTPServer{
		mcpServer:    mcpServer,
		oauthHandler: handler,
	}, nil
}

// SetMetrics attaches a metrics recorder for HTTP and auth metrics.
func (s *OAuthHTTPServer) SetMetrics(m *instrumentation.Metrics) {
	s.metrics = m
}

// SetHealthChecker attaches health endpoints to the server.
func (s *OAuthHTTPServer) SetHealthChecker(h *HealthChecker) {
	s.health = h
}

// SetSessionTracker attaches a session tracker for the /mcp endpoint.
func (s *OAuthHTTPServer) SetSessionTracker(t *SessionTracker) {
	s.sessions = t
}

// SetDisableStreaming turns off SSE streaming on the /mcp endpoint.
func (s *OAuthHTTPServer) SetDisableStreaming(disable bool) {
	s.disableStreaming = disable
}

// OAuthHandler returns the OAuth handler for testing or direct access.
func (s *OAuthHTTPServer) OAuthHandler() *oauth.Handler {
	return s.oauthHandler
}

// Handler builds the full HTTP handler without binding a listener.
func (s *OAuthHTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// OAuth provider endpoints, rate limited inside RegisterRoutes.
	s.oauthHandler.RegisterRoutes(mux)

	if s.health != nil {
		s.health.RegisterHealthEndpoints(mux)
	}

	// MCP endpoint: rate limit, then bearer validation, then the
	// streamable transport.
	opts := []mcpserver.StreamableHTTPOption{mcpserver.WithEndpointPath("/mcp")}
	if s.disableStreaming {
		opts = append(opts, mcpserver.WithDisableStreaming(true))
	}
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer, opts...)

	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions != nil {
			s.sessions.Touch(r)
		}
		streamable.ServeHTTP(w, r)
	})
	mux.Handle("/mcp", s.oauthHandler.RateLimitMiddleware(
		s.oauthInstrumentationWrapper(s.oauthHandler.ValidateToken(mcpHandler))))

	return s.instrumentationMiddleware(mux)
}

// Start starts the server and blocks until it stops.
func (s *OAuthHTTPServer) Start(addr string) error {
	if err := validateHTTPSRequirement(s.oauthHandler.Config().Issuer); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// instrumentationMiddleware records request count and duration for
// every endpoint.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// oauthInstrumentationWrapper records bearer auth outcomes on the MCP
// endpoint.
func (s *OAuthHTTPServer) oauthInstrumentationWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		result := instrumentation.OAuthResultSuccess
		if rw.statusCode == http.StatusUnauthorized {
			result = instrumentation.OAuthResultFailure
		}
		s.metrics.RecordOAuthAuth(r.Context(), result)
	})
}

// validateHTTPSRequirement enforces the OAuth 2.1 transport rule:
// HTTPS everywhere, with plain HTTP allowed only on loopback hosts.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s); use HTTPS or a loopback host", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %s (want http on loopback, or https)", u.Scheme)
	}
}
