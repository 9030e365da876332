package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/caldav"
	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/logging"
	"github.com/snowpost/icloudmcp/internal/mail"
	"github.com/snowpost/icloudmcp/internal/oauth"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/calendar_tools"
	"github.com/snowpost/icloudmcp/internal/tools/mail_tools"
)

// serveOptions holds all serve command settings after flag and
// environment resolution.
type serveOptions struct {
	debug            bool
	transport        string
	httpAddr         string
	disableStreaming bool
	baseURL          string

	appleID     string
	appPassword string
	imapServer  string
	smtpServer  string
	caldavURL   string

	oauthEnabled            bool
	consentPassword         string
	clientsFile             string
	allowPublicRegistration bool
	registrationToken       string
	rateLimit               int
	trustProxy              bool
	accessTokenTTL          time.Duration
	refreshTokenTTL         time.Duration

	metricsEnabled bool
	metricsAddr    string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server to provide iCloud mail
and calendar tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport

iCloud credentials:
  --apple-id or APPLE_ID env var, plus an app-specific password in the
  ICLOUD_APP_PASSWORD env var (create one at appleid.apple.com).
  The server starts without credentials; tools then return setup
  instructions instead of data.

OAuth (HTTP transport):
  The server is its own OAuth 2.1 authorization server. MCP clients
  register dynamically and every authorization stops at a consent page
  where the operator types the consent password
  (--consent-password or ICLOUDMCP_CONSENT_PASSWORD, required).
  HTTPS is enforced for non-loopback base URLs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.applyEnv(cmd)
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&opts.disableStreaming, "disable-streaming", false, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Public base URL of this server, used as the OAuth issuer. Can also use ICLOUDMCP_BASE_URL env var. Example: https://mcp.example.com")

	cmd.Flags().StringVar(&opts.appleID, "apple-id", "", "Apple ID for IMAP/SMTP/CalDAV authentication. Can also use APPLE_ID env var. The password comes from ICLOUD_APP_PASSWORD.")
	cmd.Flags().StringVar(&opts.imapServer, "imap-server", "", "IMAP server address (default: "+mail.DefaultIMAPServer+"). Can also use IMAP_SERVER env var.")
	cmd.Flags().StringVar(&opts.smtpServer, "smtp-server", "", "SMTP submission address (default: "+mail.DefaultSMTPServer+"). Can also use SMTP_SERVER env var.")
	cmd.Flags().StringVar(&opts.caldavURL, "caldav-url", "", "CalDAV base URL (default: "+caldav.DefaultBaseURL+"). Can also use CALDAV_URL env var.")

	cmd.Flags().BoolVar(&opts.oauthEnabled, "oauth-enabled", true, "Protect the HTTP transport with the built-in OAuth 2.1 provider")
	cmd.Flags().StringVar(&opts.consentPassword, "consent-password", "", "Password the operator types on the consent page. Required for OAuth. Can also use ICLOUDMCP_CONSENT_PASSWORD env var.")
	cmd.Flags().StringVar(&opts.clientsFile, "oauth-clients-file", "", "Path of the JSON file registered clients are persisted to (default: a clients.json under the user config dir). Can also use ICLOUDMCP_CLIENTS_FILE env var.")
	cmd.Flags().BoolVar(&opts.allowPublicRegistration, "oauth-allow-public-registration", true, "Allow unauthenticated dynamic client registration. The consent page still gates every authorization. Can also use ICLOUDMCP_OAUTH_ALLOW_PUBLIC_REGISTRATION env var.")
	cmd.Flags().StringVar(&opts.registrationToken, "oauth-registration-token", "", "Bearer token required for client registration when public registration is disabled. Can also use ICLOUDMCP_OAUTH_REGISTRATION_TOKEN env var.")
	cmd.Flags().IntVar(&opts.rateLimit, "oauth-rate-limit", 10, "Per-IP requests per second on the OAuth and MCP endpoints; 0 disables rate limiting")
	cmd.Flags().BoolVar(&opts.trustProxy, "oauth-trust-proxy", false, "Trust X-Forwarded-For / X-Real-IP headers for rate limiting (only behind a trusted proxy)")
	cmd.Flags().DurationVar(&opts.accessTokenTTL, "access-token-ttl", 0, "Access token lifetime (default: 1h, floor 5m)")
	cmd.Flags().DurationVar(&opts.refreshTokenTTL, "refresh-token-ttl", 0, "Refresh token lifetime; 0 means refresh tokens never expire")

	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// applyEnv fills unset flags from environment variables. A flag the
// user set explicitly always wins over the environment.
func (o *serveOptions) applyEnv(cmd *cobra.Command) {
	stringFromEnv(cmd, "base-url", "ICLOUDMCP_BASE_URL", &o.baseURL)
	stringFromEnv(cmd, "apple-id", "APPLE_ID", &o.appleID)
	stringFromEnv(cmd, "imap-server", "IMAP_SERVER", &o.imapServer)
	stringFromEnv(cmd, "smtp-server", "SMTP_SERVER", &o.smtpServer)
	stringFromEnv(cmd, "caldav-url", "CALDAV_URL", &o.caldavURL)
	stringFromEnv(cmd, "consent-password", "ICLOUDMCP_CONSENT_PASSWORD", &o.consentPassword)
	stringFromEnv(cmd, "oauth-clients-file", "ICLOUDMCP_CLIENTS_FILE", &o.clientsFile)
	stringFromEnv(cmd, "oauth-registration-token", "ICLOUDMCP_OAUTH_REGISTRATION_TOKEN", &o.registrationToken)
	boolFromEnv(cmd, "oauth-allow-public-registration", "ICLOUDMCP_OAUTH_ALLOW_PUBLIC_REGISTRATION", &o.allowPublicRegistration)
	boolFromEnv(cmd, "metrics-enabled", "METRICS_ENABLED", &o.metricsEnabled)
	stringFromEnv(cmd, "metrics-addr", "METRICS_ADDR", &o.metricsAddr)

	// The app-specific password is environment-only so it never shows
	// up in process listings.
	o.appPassword = os.Getenv("ICLOUD_APP_PASSWORD")
}

// stringFromEnv applies an environment variable to a string option
// when the corresponding flag was not explicitly set.
func stringFromEnv(cmd *cobra.Command, flagName, envVar string, target *string) {
	if cmd.Flags().Changed(flagName) {
		return
	}
	if value := os.Getenv(envVar); value != "" {
		*target = value
	}
}

// boolFromEnv is the boolean counterpart of stringFromEnv. It accepts
// "true" and "false"; anything else leaves the flag default.
func boolFromEnv(cmd *cobra.Command, flagName, envVar string, target *bool) {
	if cmd.Flags().Changed(flagName) {
		return
	}
	switch os.Getenv(envVar) {
	case "true":
		*target = true
	case "false":
		*target = false
	}
}

func runServe(opts *serveOptions) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Logs go to stderr; on the stdio transport stdout belongs to the
	// MCP protocol.
	logger := newLogger(opts.debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	// Start the dedicated metrics listener, except in stdio mode where
	// a long-lived port would outlive the client session.
	var metricsServer *server.MetricsServer
	if opts.transport != "stdio" && opts.metricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	// Create server context with the iCloud backend configuration
	serverContext := server.NewServerContext(shutdownCtx, server.Config{
		Mail: mail.Config{
			IMAPServer: opts.imapServer,
			SMTPServer: opts.smtpServer,
			Username:   opts.appleID,
			Password:   opts.appPassword,
			Logger:     logger,
		},
		Calendar: caldav.Config{
			BaseURL:  opts.caldavURL,
			Username: opts.appleID,
			Password: opts.appPassword,
			Logger:   logger,
		},
		Logger: logger,
	})
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	// Set metrics and audit logger on server context for tool instrumentation
	if provider.Enabled() {
		serverContext.SetMetrics(provider.Metrics())
		serverContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging))
	}

	if !serverContext.MailConfigured() && !serverContext.CalendarConfigured() {
		logger.Warn("no iCloud credentials configured; tools will return setup instructions",
			"hint", "set APPLE_ID and ICLOUD_APP_PASSWORD")
	}

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("icloudmcp", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)

	if err := registerAllTools(mcpSrv, serverContext); err != nil {
		return err
	}

	switch opts.transport {
	case "stdio":
		return runStdioServer(mcpSrv)
	case "streamable-http":
		return runHTTPServer(shutdownCtx, mcpSrv, serverContext, provider, opts)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", opts.transport)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// registerAllTools registers all MCP tools
func registerAllTools(mcpSrv *mcpserver.MCPServer, ctx *server.ServerContext) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Mail",
			register: func() error {
				return mail_tools.RegisterMailTools(mcpSrv, ctx)
			},
		},
		{
			name: "Calendar",
			register: func() error {
				return calendar_tools.RegisterCalendarTools(mcpSrv, ctx)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.name, err)
		}
	}

	return nil
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, provider *instrumentation.Provider, opts *serveOptions) error {
	baseURL := resolveBaseURL(opts.baseURL, opts.httpAddr)

	if !opts.oauthEnabled {
		slog.Warn("OAuth disabled; the /mcp endpoint is unauthenticated")
		return runPlainHTTPServer(ctx, mcpSrv, sc, opts)
	}

	if opts.consentPassword == "" {
		return fmt.Errorf("consent password is required for the OAuth-protected HTTP transport; set --consent-password or ICLOUDMCP_CONSENT_PASSWORD")
	}

	clientsFile := opts.clientsFile
	if clientsFile == "" {
		clientsFile = defaultClientsFile()
	}

	oauthConfig := &oauth.Config{
		Issuer:          baseURL,
		ConsentPassword: opts.consentPassword,
		ClientsFile:     clientsFile,
		DefaultScopes:   []string{"mail", "calendar"},
		ValidScopes:     []string{"mail", "calendar"},
		AccessTokenTTL:  opts.accessTokenTTL,
		RefreshTokenTTL: opts.refreshTokenTTL,
		Registration: oauth.RegistrationConfig{
			AllowPublicRegistration: opts.allowPublicRegistration,
			AccessToken:             opts.registrationToken,
		},
		RateLimit: oauth.RateLimitConfig{
			Rate:       opts.rateLimit,
			TrustProxy: opts.trustProxy,
		},
		Logger: slog.Default(),
	}

	oauthServer, err := server.NewOAuthHTTPServer(mcpSrv, oauthConfig)
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}
	oauthServer.SetDisableStreaming(opts.disableStreaming)
	oauthServer.SetHealthChecker(server.NewHealthChecker(sc))

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
		oauthServer.SetMetrics(metrics)
	}
	oauthServer.SetSessionTracker(server.NewSessionTracker(server.DefaultSessionTimeout, slog.Default(), metrics))

	slog.Info("starting MCP HTTP server with OAuth",
		"addr", opts.httpAddr,
		"issuer", baseURL,
		"mcp_endpoint", "/mcp",
		"clients_file", clientsFile,
	)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := oauthServer.Start(opts.httpAddr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := oauthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	return nil
}

// runPlainHTTPServer serves the streamable transport without the OAuth
// provider. Meant for trusted local setups only.
func runPlainHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, opts *serveOptions) error {
	mux := http.NewServeMux()
	server.NewHealthChecker(sc).RegisterHealthEndpoints(mux)

	streamOpts := []mcpserver.StreamableHTTPOption{mcpserver.WithEndpointPath("/mcp")}
	if opts.disableStreaming {
		streamOpts = append(streamOpts, mcpserver.WithDisableStreaming(true))
	}
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv, streamOpts...))

	httpServer := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("starting MCP HTTP server", "addr", opts.httpAddr, "mcp_endpoint", "/mcp")

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	return nil
}

// resolveBaseURL falls back to a loopback URL derived from the listen
// address for local development.
func resolveBaseURL(baseURL, addr string) string {
	if baseURL != "" {
		slog.Info("using configured base URL", "base_url", baseURL)
		return baseURL
	}

	baseURL = fmt.Sprintf("http://%s", addr)
	if len(addr) > 0 && addr[0] == ':' {
		baseURL = fmt.Sprintf("http://localhost%s", addr)
	}
	slog.Info("no base URL configured, using auto-detected", "base_url", baseURL)
	slog.Info("for deployed instances, set --base-url or ICLOUDMCP_BASE_URL")
	return baseURL
}

// defaultClientsFile places client registrations under the user config
// dir. Returns empty (no persistence) when no config dir is available.
func defaultClientsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	appDir := filepath.Join(dir, "icloudmcp")
	if err := os.MkdirAll(appDir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(appDir, "clients.json")
}
