// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers env expansion, duration parsing and required-field checks

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
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:3000"
database:
  path: "/tmp/relay.db"
bus:
  backend: redis
  channel: "relay:broadcast"
  redis:
    addr: "127.0.0.1:6379"
    db: 2
session:
  recovery_grace: "30s"
logging:
  level: debug
  format: json
metrics:
  enabled: true
  path: /metrics
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Bus.Backend)
	assert.Equal(t, "relay:broadcast", cfg.Bus.Channel)
	assert.Equal(t, "127.0.0.1:6379", cfg.Bus.Redis.Addr)
	assert.Equal(t, 2, cfg.Bus.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Session.RecoveryGrace)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RELAY_DB_PATH", "/var/lib/relay/chat.db")

	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "${RELAY_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/relay/chat.db", cfg.Database.Path)
}

func TestLoad_DefaultsToMemoryBus(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "chat.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Bus.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "chat.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_addr")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_RedisBackendRequiresAddr(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "chat.db"
bus:
  backend: redis
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.redis.addr")
}

func TestLoad_UnknownBusBackend(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "chat.db"
bus:
  backend: carrier-pigeon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.backend")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "chat.db"
session:
  recovery_grace: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery_grace")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/relay.yaml")
	require.Error(t, err)
}
