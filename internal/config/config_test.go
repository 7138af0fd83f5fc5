// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env expansion, duration parsing, defaults, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
database:
  path: /tmp/intake.db
auth:
  jwt_secret: shhh
whatsapp:
  gateway_url: https://wa-gateway.example.com/send
  api_key: key-123
  webhook_secret: hook-456
  freeform_window: 24h
logging:
  level: debug
  format: json
metrics:
  enabled: true
  path: /metrics
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/intake.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.WhatsApp.FreeformWindow)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/intake.db
auth:
  jwt_secret: ${TEST_JWT_SECRET}
whatsapp:
  gateway_url: https://wa.example.com/send
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_DefaultFreeformWindow(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/intake.db
auth:
  jwt_secret: shhh
whatsapp:
  gateway_url: https://wa.example.com/send
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultFreeformWindow, cfg.WhatsApp.FreeformWindow)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/intake.db
auth:
  jwt_secret: shhh
whatsapp:
  gateway_url: https://wa.example.com/send
  freeform_window: "one day"
`))
	assert.ErrorContains(t, err, "freeform_window")
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"missing gateway url", func(c *Config) { c.WhatsApp.GatewayURL = "" }, "whatsapp.gateway_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
