package instrumentation

import (
	"fmt"
	"os"
	"strconv"
)

// Exporter names accepted by Config.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Status label values shared by all metric recorders.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// OAuth result label values.
const (
	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"
)

// Backend protocol names used as the service label on operation metrics
// and as the service attribute on spans and audit entries.
const (
	ServiceIMAP   = "imap"
	ServiceSMTP   = "smtp"
	ServiceCalDAV = "caldav"
)

// Config describes the telemetry pipeline: which exporters run, how
// traces are sampled, and how the emitting service identifies itself.
type Config struct {
	// ServiceName and ServiceVersion identify this process in exported
	// telemetry. ServiceInstanceID falls back to the hostname.
	ServiceName       string
	ServiceVersion    string
	ServiceInstanceID string

	// K8sNamespace and K8sPodName are attached as resource attributes
	// when running inside a cluster.
	K8sNamespace string
	K8sPodName   string

	// Enabled gates the whole pipeline. When false, metric recorders
	// and tracers are no-ops.
	Enabled bool

	// MetricsExporter is one of prometheus, otlp, or stdout.
	MetricsExporter string

	// TracingExporter is one of otlp, stdout, or none.
	TracingExporter string

	// OTLPEndpoint is the collector address (host:port, no scheme).
	// Required when either exporter is set to otlp.
	OTLPEndpoint string

	// OTLPInsecure exports over plain HTTP. Spans carry mailbox names
	// and event summaries, so this should stay off outside local
	// development.
	OTLPInsecure bool

	// TraceSamplingRate is the head sampling ratio, 0.0 to 1.0.
	TraceSamplingRate float64

	// DetailedLabels adds the OAuth client ID as a metric label. Each
	// distinct client creates a new series, so this stays off unless
	// the client population is known to be small.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the audit trail of tool invocations.
type AuditLoggingConfig struct {
	// Enabled gates audit entries entirely.
	Enabled bool

	// IncludePII logs the raw caller identity instead of the hashed
	// form. Audit sinks holding raw identities need access controls.
	IncludePII bool

	// LogLevel is the slog level for audit entries: debug, info, warn,
	// or error.
	LogLevel string
}

// DefaultConfig reads the pipeline configuration from the environment,
// following the standard OTEL_* names where they exist.
func DefaultConfig() Config {
	return Config{
		ServiceName:       getEnvOrDefault("OTEL_SERVICE_NAME", "icloudmcp"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: getEnvOrDefault("OTEL_SERVICE_INSTANCE_ID", ""),
		K8sNamespace:      getEnvOrDefault("K8S_NAMESPACE", getEnvOrDefault("POD_NAMESPACE", "")),
		K8sPodName:        getEnvOrDefault("K8S_POD_NAME", getEnvOrDefault("HOSTNAME", "")),
		Enabled:           getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   getEnvOrDefault("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: getEnvFloatOrDefault("OTEL_TRACES_SAMPLER_ARG", 0.1),
		DetailedLabels:    getEnvBoolOrDefault("METRICS_DETAILED_LABELS", false),
		AuditLogging: AuditLoggingConfig{
			Enabled:    getEnvBoolOrDefault("AUDIT_LOGGING_ENABLED", true),
			IncludePII: getEnvBoolOrDefault("AUDIT_LOGGING_INCLUDE_PII", false),
			LogLevel:   getEnvOrDefault("AUDIT_LOGGING_LEVEL", "info"),
		},
	}
}

// Validate rejects configurations the provider cannot build.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" {
		if c.TracingExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP tracing exporter")
		}
		if c.MetricsExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP metrics exporter")
		}
	}

	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Unparseable values fall back to the default rather than failing
// startup over a typo in an environment variable.
func getEnvBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
