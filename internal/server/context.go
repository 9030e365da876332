package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/snowpost/icloudmcp/internal/caldav"
	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/mail"
)

// Config carries the backend configuration for a ServerContext.
type Config struct {
	Mail     mail.Config
	Calendar caldav.Config
	Logger   *slog.Logger
}

// ServerContext holds the shared state for the MCP server: the iCloud
// protocol clients and the shutdown lifecycle. Clients are created
// lazily on first use so the server can start before credentials are
// verified.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mailCfg     mail.Config
	calendarCfg caldav.Config

	mu             sync.RWMutex
	mailClient     *mail.Client
	calendarClient *caldav.Client
	metrics        *instrumentation.Metrics
	auditLogger    *instrumentation.AuditLogger
	shutdown       bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, cfg Config) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		logger:      logger,
		mailCfg:     cfg.Mail,
		calendarCfg: cfg.Calendar,
	}
}

// Context returns the server lifecycle context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// MailClient returns the mail client, creating it on first use.
func (sc *ServerContext) MailClient() (*mail.Client, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.mailClient != nil {
		return sc.mailClient, nil
	}
	client, err := mail.NewClient(sc.mailCfg)
	if err != nil {
		return nil, err
	}
	sc.mailClient = client
	return client, nil
}

// SetMailClient replaces the mail client. Used by tests.
func (sc *ServerContext) SetMailClient(client *mail.Client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.mailClient = client
}

// CalendarClient returns the calendar client, creating it on first use.
func (sc *ServerContext) CalendarClient() (*caldav.Client, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.calendarClient != nil {
		return sc.calendarClient, nil
	}
	client, err := caldav.NewClient(sc.calendarCfg)
	if err != nil {
		return nil, err
	}
	sc.calendarClient = client
	return client, nil
}

// SetCalendarClient replaces the calendar client. Used by tests.
func (sc *ServerContext) SetCalendarClient(client *caldav.Client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.calendarClient = client
}

// SetMetrics attaches a metrics recorder. The clients pick it up on
// their next creation, so call this before the first tool runs.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
	sc.mailCfg.Metrics = m
	sc.calendarCfg.Metrics = m
}

// Metrics returns the metrics recorder, or nil if none is configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetAuditLogger attaches an audit logger for tool invocations.
func (sc *ServerContext) SetAuditLogger(al *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = al
}

// AuditLogger returns the audit logger, or nil if none is configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// MailConfigured reports whether mail credentials are present.
func (sc *ServerContext) MailConfigured() bool {
	return sc.mailCfg.Validate() == nil
}

// CalendarConfigured reports whether calendar credentials are present.
func (sc *ServerContext) CalendarConfigured() bool {
	return sc.calendarCfg.Validate() == nil
}

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the lifecycle context. Protocol connections are per
// operation, so there is nothing else to tear down.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cancel()
	sc.logger.Info("server context shut down")
	return nil
}
