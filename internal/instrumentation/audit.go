package instrumentation

import (
	"context"
	"log/slog"
	"time"
)

// ToolInvocation is the audit record for one MCP tool call.
//
// The User field carries the caller identity (the OAuth client ID on
// the HTTP transport, empty on stdio) and may be PII when operators
// register clients under email-shaped IDs. LogAttrs keeps it out of
// the output; LogAuditAttrs includes it.
type ToolInvocation struct {
	Tool string

	// User is the caller identity taken from the validated bearer token.
	User string

	// ServiceName and Operation name the backend protocol touched
	// (imap, smtp, caldav / list, get, send, ...).
	ServiceName string
	Operation   string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts the audit record; timing begins now.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

// WithUser sets the caller identity.
func (ti *ToolInvocation) WithUser(user string) *ToolInvocation {
	ti.User = user
	return ti
}

// WithService tags the record with the backend service and operation.
func (ti *ToolInvocation) WithService(serviceName, operation string) *ToolInvocation {
	ti.ServiceName = serviceName
	ti.Operation = operation
	return ti
}

// WithSpanContext copies trace identifiers from the span in ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = GetTraceID(ctx)
	ti.SpanID = GetSpanID(ctx)
	return ti
}

// Complete stamps the duration and outcome.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation failed with err.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// Status maps the outcome onto the metric status label.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// UserDomain reduces an email-shaped user identity to its domain for
// low-cardinality logging.
func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.User)
}

// LogAttrs returns the anonymized attribute set: the user identity is
// reduced to its domain.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("user_domain", ti.UserDomain()),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	return append(attrs, ti.optionalAttrs(false)...)
}

// LogAuditAttrs returns the full attribute set including the raw user
// identity. Route logs built from these to access-controlled storage.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("user", ti.User),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	return append(attrs, ti.optionalAttrs(true)...)
}

func (ti *ToolInvocation) optionalAttrs(includeSpanID bool) []slog.Attr {
	var attrs []slog.Attr
	if ti.ServiceName != "" {
		attrs = append(attrs, slog.String("service", ti.ServiceName))
	}
	if ti.Operation != "" {
		attrs = append(attrs, slog.String("operation", ti.Operation))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if includeSpanID && ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// AuditLogger writes structured audit entries for tool invocations.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an enabled audit logger that anonymizes the
// caller identity.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig returns an audit logger honoring config.
// A nil logger falls back to slog.Default().
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation writes one audit entry. Whether the raw caller
// identity appears depends on the IncludePII configuration.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	} else {
		attrs = ti.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
