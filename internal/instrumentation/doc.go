// Package instrumentation wires OpenTelemetry metrics, tracing, and
// audit logging into the icloudmcp server.
//
// A Provider owns the whole pipeline. Build one from DefaultConfig,
// which reads the standard OTEL_* environment variables plus a few
// server-specific ones (INSTRUMENTATION_ENABLED, METRICS_EXPORTER,
// TRACING_EXPORTER, METRICS_DETAILED_LABELS, AUDIT_LOGGING_*). A
// disabled provider still hands out a usable Metrics recorder and a
// noop tracer, so callers never branch on whether telemetry is on.
//
// Metric families, all labelled with bounded vocabularies:
//
//   - http_requests_total / http_request_duration_seconds: the HTTP
//     surface by method, path, and status class
//   - active_sessions: sessions currently tracked on the MCP endpoint
//   - icloud_operations_total / icloud_operation_duration_seconds:
//     backend protocol calls by service (imap, smtp, caldav),
//     operation, and status
//   - oauth_auth_total / oauth_token_refresh_total: authorization and
//     refresh outcomes
//   - mcp_tool_invocations_total / mcp_tool_duration_seconds: tool
//     calls by name and status, optionally by OAuth client ID when
//     DetailedLabels is on
//
// Tracing opens one server-kind span per tool invocation, named
// tool.<name>. The audit log records the trace and span IDs on each
// entry, so audit lines can be joined with traces after the fact. The
// audit trail itself hashes caller identities unless IncludePII is
// explicitly enabled.
//
// Prometheus is the default metrics exporter; the exporter registers
// with the global registry and the dedicated metrics server scrapes it
// at /metrics. OTLP and stdout exporters are available for both
// signals, with tracing off (none) by default.
package instrumentation
