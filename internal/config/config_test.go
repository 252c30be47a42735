package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DIRECTLINE_ENDPOINT", "COPILOT_AGENT_SECRET", "PARAM_PREFIX", "SECRET_CACHE_TTL",
		"POLL_INTERVAL", "EXCHANGE_TIMEOUT", "MAX_MESSAGE_LENGTH", "TRANSCRIPT_TABLE",
		"AGENT_DEFINITION_PATH", "MCP_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg := Load()
	require.Equal(t, "", cfg.DirectLineEndpoint)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 2*time.Minute, cfg.ExchangeTimeout)
	require.Equal(t, 5*time.Minute, cfg.SecretCacheTTL)
	require.Equal(t, 4000, cfg.MaxMessageLength)
	require.Equal(t, "agent_definition.json", cfg.AgentDefinitionPath)
	require.Equal(t, ":8080", cfg.MCPAddr)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	require.Error(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("DIRECTLINE_ENDPOINT", "https://directline.example/v3/directline")
	t.Setenv("PARAM_PREFIX", "/copilot/prod/")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("EXCHANGE_TIMEOUT", "0s")
	t.Setenv("MAX_MESSAGE_LENGTH", "120")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, time.Duration(0), cfg.ExchangeTimeout)
	require.Equal(t, 120, cfg.MaxMessageLength)
	require.Equal(t, "/copilot/prod/directline-secret", cfg.SecretParameterName())
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("MAX_MESSAGE_LENGTH", "lots")

	cfg := Load()
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 4000, cfg.MaxMessageLength)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DIRECTLINE_ENDPOINT=https://dl.example\nCOPILOT_AGENT_SECRET=s3cret\n"), 0o600))
	// godotenv does not override variables that are already set, even empty ones.
	require.NoError(t, os.Unsetenv("DIRECTLINE_ENDPOINT"))
	require.NoError(t, os.Unsetenv("COPILOT_AGENT_SECRET"))
	t.Cleanup(func() {
		os.Unsetenv("DIRECTLINE_ENDPOINT")
		os.Unsetenv("COPILOT_AGENT_SECRET")
	})

	cfg := Load()
	require.Equal(t, "https://dl.example", cfg.DirectLineEndpoint)
	require.Equal(t, "s3cret", cfg.AgentSecret)
	require.NoError(t, cfg.Validate())
}

func TestSecretParameterName_EmptyPrefix(t *testing.T) {
	require.Equal(t, "", (&Config{}).SecretParameterName())
}

func TestLoadAgentDefinition(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		p := filepath.Join(dir, "valid.json")
		require.NoError(t, os.WriteFile(p, []byte(`{"name":" HR Helper ","description":"Answers HR questions"}`), 0o600))
		def := LoadAgentDefinition(p)
		require.Equal(t, "HR Helper", def.Name)
		require.Equal(t, "Answers HR questions", def.Description)
	})

	t.Run("missing file", func(t *testing.T) {
		require.Equal(t, DefaultAgentDefinition, LoadAgentDefinition(filepath.Join(dir, "nope.json")))
	})

	t.Run("bad json", func(t *testing.T) {
		p := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(p, []byte(`{"name":`), 0o600))
		require.Equal(t, DefaultAgentDefinition, LoadAgentDefinition(p))
	})

	t.Run("missing description", func(t *testing.T) {
		p := filepath.Join(dir, "partial.json")
		require.NoError(t, os.WriteFile(p, []byte(`{"name":"x"}`), 0o600))
		require.Equal(t, DefaultAgentDefinition, LoadAgentDefinition(p))
	})
}
