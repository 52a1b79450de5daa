package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpkit/acp-go/pkg/observability"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "acp-agent", cfg.Server.Name)
	assert.Equal(t, 30*time.Minute, cfg.Server.IdleTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout.Std())
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  name: review-agent
  listen_addr: ":8089"
  idle_timeout: 5m
auth:
  bearer_tokens: ["tok-1", "tok-2"]
logging:
  level: debug
  format: json
telemetry:
  metrics_addr: ":9090"
  tracing:
    exporter: otlp-grpc
    endpoint: collector:4317
    insecure: true
    sample_rate: 0.25
tools:
  - name: lint
    kind: execute
    description: Run the linter
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "review-agent", cfg.Server.Name)
	assert.Equal(t, ":8089", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout.Std())
	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout.Std())
	assert.Equal(t, "/acp", cfg.Server.WSPath)

	assert.True(t, cfg.Auth.Enabled())
	authn, methods := cfg.Authenticator()
	require.NotNil(t, authn)
	require.Len(t, methods, 1)
	assert.Equal(t, "bearer", methods[0].ID)

	tracing := cfg.TracingConfig()
	assert.Equal(t, observability.ExporterOTLPGRPC, tracing.ExporterType)
	assert.Equal(t, "collector:4317", tracing.Endpoint)
	assert.Equal(t, "review-agent", tracing.ServiceName)
	assert.InDelta(t, 0.25, tracing.SampleRate, 1e-9)

	tools := cfg.ExtraTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "lint", tools[0].Name)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":    "server:\n  idle_timeout: soon\n",
		"bad format":      "logging:\n  format: xml\n",
		"bad exporter":    "telemetry:\n  tracing:\n    exporter: jaeger\n",
		"bad sample rate": "telemetry:\n  tracing:\n    sample_rate: 2.5\n",
		"unnamed tool":    "tools:\n  - description: no name\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestAuthenticatorDisabledWithoutCredentials(t *testing.T) {
	authn, methods := Default().Authenticator()
	assert.Nil(t, authn)
	assert.Empty(t, methods)
}

func TestMultiAuthenticatorWhenBothConfigured(t *testing.T) {
	cfg := Default()
	cfg.Auth.BearerTokens = []string{"tok"}
	cfg.Auth.APIKeys = []string{"key"}
	authn, methods := cfg.Authenticator()
	require.NotNil(t, authn)
	assert.Len(t, methods, 2)
}
