// Package config loads agent runtime configuration from YAML. A missing
// file yields the defaults; an unreadable or invalid file is an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acpkit/acp-go/pkg/auth"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/observability"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return acperrors.InvalidParameter("duration", s, "a Go duration such as 30s or 5m")
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig covers the connection-serving side of the runtime.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// ListenAddr enables the WebSocket listener when non-empty. Stdio
	// serving needs no configuration.
	ListenAddr string `yaml:"listen_addr"`
	WSPath     string `yaml:"ws_path"`

	IdleTimeout    Duration `yaml:"idle_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// AuthConfig lists accepted credentials. Empty means no authentication
// gate at all.
type AuthConfig struct {
	BearerTokens []string `yaml:"bearer_tokens"`
	APIKeys      []string `yaml:"api_keys"`
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.BearerTokens) > 0 || len(a.APIKeys) > 0
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Exporter    string            `yaml:"exporter"` // "otlp-grpc", "otlp-http" or "none"
	Endpoint    string            `yaml:"endpoint"`
	Headers     map[string]string `yaml:"headers"`
	Insecure    bool              `yaml:"insecure"`
	SampleRate  float64           `yaml:"sample_rate"`
	Environment string            `yaml:"environment"`
}

// TelemetryConfig covers metrics and tracing.
type TelemetryConfig struct {
	// MetricsAddr serves the Prometheus endpoint when non-empty.
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// ToolEntry declares one extra tool appended to the static fallback
// catalog.
type ToolEntry struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`
}

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Tools     []ToolEntry     `yaml:"tools"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:           "acp-agent",
			Version:        "dev",
			WSPath:         "/acp",
			IdleTimeout:    Duration(30 * time.Minute),
			RequestTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{Exporter: "none"},
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, acperrors.Wrap(err, acperrors.CodeInternalError,
			"Failed to read config file "+path,
			acperrors.CategoryInternal, acperrors.SeverityError)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, acperrors.Wrap(err, acperrors.CodeInvalidParameter,
			"Invalid YAML in "+path,
			acperrors.CategoryValidation, acperrors.SeverityError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges. Called by Load; exported for configs
// assembled in code.
func (c *Config) Validate() error {
	if c.Server.IdleTimeout < 0 || c.Server.RequestTimeout < 0 {
		return acperrors.InvalidParameter("timeout", c.Server.IdleTimeout, "a non-negative duration")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return acperrors.InvalidParameter("logging.format", c.Logging.Format, "text or json")
	}
	switch observability.ExporterType(c.Telemetry.Tracing.Exporter) {
	case "", observability.ExporterNone, observability.ExporterOTLPGRPC, observability.ExporterOTLPHTTP:
	default:
		return acperrors.InvalidParameter("telemetry.tracing.exporter",
			c.Telemetry.Tracing.Exporter, "otlp-grpc, otlp-http or none")
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		return acperrors.InvalidParameter("telemetry.tracing.sample_rate", r, "a value between 0 and 1")
	}
	for i, tool := range c.Tools {
		if tool.Name == "" {
			return acperrors.InvalidParameter("tools", fmt.Sprintf("entry %d", i), "a non-empty name")
		}
	}
	return nil
}

// Logger builds the configured logger writing to stderr.
func (c *Config) Logger() logging.Logger {
	var formatter logging.Formatter
	if c.Logging.Format == "json" {
		formatter = logging.NewJSONFormatter()
	} else {
		formatter = logging.NewTextFormatter()
	}
	logger := logging.New(os.Stderr, formatter)
	logger.SetLevel(logging.ParseLevel(c.Logging.Level))
	return logger
}

// Authenticator assembles the configured credential checkers, or nil when
// authentication is disabled.
func (c *Config) Authenticator() (auth.Authenticator, []protocol.AuthMethod) {
	var authenticators []auth.Authenticator
	var methods []protocol.AuthMethod
	if len(c.Auth.BearerTokens) > 0 {
		authenticators = append(authenticators, auth.NewBearerAuthenticator(c.Auth.BearerTokens...))
		methods = append(methods, protocol.AuthMethod{ID: "bearer", Name: "Bearer token"})
	}
	if len(c.Auth.APIKeys) > 0 {
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(c.Auth.APIKeys...))
		methods = append(methods, protocol.AuthMethod{ID: "api_key", Name: "API key"})
	}
	switch len(authenticators) {
	case 0:
		return nil, nil
	case 1:
		return authenticators[0], methods
	default:
		return auth.NewMulti(authenticators...), methods
	}
}

// TracingConfig converts the YAML block to the observability form.
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.Server.Name,
		ServiceVersion: c.Server.Version,
		Environment:    c.Telemetry.Tracing.Environment,
		ExporterType:   observability.ExporterType(c.Telemetry.Tracing.Exporter),
		Endpoint:       c.Telemetry.Tracing.Endpoint,
		Headers:        c.Telemetry.Tracing.Headers,
		Insecure:       c.Telemetry.Tracing.Insecure,
		SampleRate:     c.Telemetry.Tracing.SampleRate,
	}
}

// ExtraTools converts configured tool entries to protocol descriptors.
func (c *Config) ExtraTools() []protocol.ToolDescriptor {
	if len(c.Tools) == 0 {
		return nil
	}
	tools := make([]protocol.ToolDescriptor, len(c.Tools))
	for i, entry := range c.Tools {
		tools[i] = protocol.ToolDescriptor{
			Name:        entry.Name,
			Kind:        protocol.ToolKind(entry.Kind),
			Description: entry.Description,
		}
	}
	return tools
}
