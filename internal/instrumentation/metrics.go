package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrTool      = "tool"
	attrClient    = "client"
)

// Metrics records the server's observability metrics. A zero Metrics
// drops every recording, which is what a disabled provider hands out.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	icloudOperationsTotal   metric.Int64Counter
	icloudOperationDuration metric.Float64Histogram

	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels admits high-cardinality labels (OAuth client IDs).
	detailedLabels bool
}

func newCounter(meter metric.Meter, name, desc, unit string) (metric.Int64Counter, error) {
	c, err := meter.Int64Counter(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c, nil
}

func newHistogram(meter metric.Meter, name, desc string, bounds ...float64) (metric.Float64Histogram, error) {
	h, err := meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h, nil
}

// NewMetrics registers all instruments on the given meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	// Backend operations wait on network round trips, so their buckets
	// reach further than the HTTP ones.
	httpBounds := []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	backendBounds := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

	var err error
	if m.httpRequestsTotal, err = newCounter(meter,
		"http_requests_total", "Total number of HTTP requests", "{request}"); err != nil {
		return nil, err
	}
	if m.httpRequestDuration, err = newHistogram(meter,
		"http_request_duration_seconds", "HTTP request duration in seconds", httpBounds...); err != nil {
		return nil, err
	}

	m.activeSessions, err = meter.Int64UpDownCounter("active_sessions",
		metric.WithDescription("Number of active MCP sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	if m.icloudOperationsTotal, err = newCounter(meter,
		"icloud_operations_total", "Total number of iCloud protocol operations", "{operation}"); err != nil {
		return nil, err
	}
	if m.icloudOperationDuration, err = newHistogram(meter,
		"icloud_operation_duration_seconds", "iCloud protocol operation duration in seconds", backendBounds...); err != nil {
		return nil, err
	}

	if m.oauthAuthTotal, err = newCounter(meter,
		"oauth_auth_total", "Total number of OAuth authentication attempts", "{attempt}"); err != nil {
		return nil, err
	}
	if m.oauthTokenRefreshTotal, err = newCounter(meter,
		"oauth_token_refresh_total", "Total number of OAuth token refresh attempts", "{attempt}"); err != nil {
		return nil, err
	}

	if m.toolInvocationsTotal, err = newCounter(meter,
		"mcp_tool_invocations_total", "Total number of MCP tool invocations", "{invocation}"); err != nil {
		return nil, err
	}
	if m.toolDuration, err = newHistogram(meter,
		"mcp_tool_duration_seconds", "MCP tool execution duration in seconds", backendBounds...); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordICloudOperation records one backend protocol operation.
// Service is imap, smtp or caldav; status is success or error.
func (m *Metrics) RecordICloudOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m.icloudOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.icloudOperationsTotal.Add(ctx, 1, attrs)
	m.icloudOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOAuthAuth records the outcome of an authorization attempt.
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m.oauthAuthTotal == nil {
		return
	}
	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records the outcome of a refresh-token exchange.
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m.oauthTokenRefreshTotal == nil {
		return
	}
	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordToolInvocation records one MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithClient(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithClient records one MCP tool invocation with
// the OAuth client that issued it. The client label is only emitted
// when detailed labels are enabled; client IDs are unbounded and would
// otherwise blow up series cardinality.
func (m *Metrics) RecordToolInvocationWithClient(ctx context.Context, toolName, status, clientID string, duration time.Duration) {
	if m.toolInvocationsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && clientID != "" {
		attrs = append(attrs, attribute.String(attrClient, clientID))
	}
	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions bumps the live session gauge.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions drops the live session gauge.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
