package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: editor-bridge
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "editor-bridge", cfg.Service.Name)
	assert.Equal(t, 10*time.Millisecond, cfg.Service.TickInterval)
	assert.Equal(t, "INFO", cfg.Service.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Bridge.InvokeTimeout)
	assert.Equal(t, 1000, cfg.Bridge.RetryHintMS)
	assert.Equal(t, 10, cfg.Jobs.Retention)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HB_SESSION_PATH", "/tmp/hb-session.db")

	path := writeConfig(t, `
session:
  path: ${HB_SESSION_PATH}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hb-session.db", cfg.Session.Path)
}

func TestLoadUndefinedEnvVarFails(t *testing.T) {
	path := writeConfig(t, `
session:
  path: ${HB_DEFINITELY_UNSET_VAR}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HB_DEFINITELY_UNSET_VAR")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
bridge:
  invoke_timeout: 10ms
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoke_timeout")

	path = writeConfig(t, `
jobs:
  kind_retention:
    build: -2
`)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind_retention")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "hostbridge", cfg.Service.Name)
	assert.NotZero(t, cfg.Service.TickInterval)
}
