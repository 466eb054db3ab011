package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: "127.0.0.1"
  port: 9090
gemini:
  api_key: "file-key"
  voice: "Kore"
session:
  idle_timeout: 60s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-key", cfg.Gemini.APIKey)
	assert.Equal(t, "Kore", cfg.Gemini.Voice)
	assert.Equal(t, 60*time.Second, cfg.Session.IdleTimeout)

	// 未配置的字段回落到默认值
	assert.Equal(t, "generativelanguage.googleapis.com", cfg.Gemini.Host)
	assert.Equal(t, 24000, cfg.Gemini.OutputSampleRate)
	assert.Equal(t, 10*time.Second, cfg.Session.FinalTurnTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no_such.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidPort(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: "127.0.0.1"
  port: -1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidServerPort)
}

func TestAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg := Default()
	assert.Equal(t, "env-key", cfg.Gemini.APIKey)
}

func TestAPIKeyMayBeEmpty(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	// 密钥缺失不阻止进程启动，错误在会话启动时报告
	path := writeConfigFile(t, `
server:
  host: "0.0.0.0"
  port: 8080
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Gemini.APIKey)
}
