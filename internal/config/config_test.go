// ABOUTME: Tests for configuration parsing
// ABOUTME: Covers defaults, env expansion, TTL parsing, and validation errors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, ":8484", cfg.Server.HTTPAddr)
	assert.Equal(t, "postbox.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParse_FullConfig(t *testing.T) {
	data := []byte(`
server:
  http_addr: ":9000"
database:
  path: /var/lib/postbox/data.db
auth:
  jwt_secret: sekrit
  session_ttl: 90m
logging:
  level: debug
  format: json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/postbox/data.db", cfg.Database.Path)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	assert.Equal(t, 90*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("POSTBOX_TEST_SECRET", "from-env")

	cfg, err := Parse([]byte("auth:\n  jwt_secret: ${POSTBOX_TEST_SECRET}\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)

	// Unset variables expand to the empty string.
	cfg, err = Parse([]byte("auth:\n  jwt_secret: \"${POSTBOX_TEST_UNSET_VAR}\"\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestParse_InvalidTTL(t *testing.T) {
	_, err := Parse([]byte("auth:\n  session_ttl: soon\n"))
	assert.Error(t, err)
}

func TestParse_InvalidLogging(t *testing.T) {
	_, err := Parse([]byte("logging:\n  level: loud\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("logging:\n  format: xml\n"))
	assert.Error(t, err)
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not: a: map"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_addr: \":7777\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.HTTPAddr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
