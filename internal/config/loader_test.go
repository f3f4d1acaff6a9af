package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "groundd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `server:
  http_port: 8081
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
conversation:
  default_top_k: 20
ingestion:
  stale_after: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))
	t.Setenv("GROUNDD_SERVER_HTTP_PORT", "9191")
	t.Setenv("GROUNDD_LLM_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, 20, cfg.Conversation.DefaultTopK)
	assert.Equal(t, 2*time.Hour, cfg.Ingestion.StaleAfter.Duration())
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIAPIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.LLM.OpenAIAPIKey.String())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, 100, cfg.Ingestion.BatchSize)
	assert.Equal(t, 100, cfg.Conversation.DefaultTopK)
	assert.InDelta(t, 0.1, cfg.Conversation.DefaultTemperature, 1e-9)
	assert.Equal(t, "en", cfg.Conversation.PivotLanguage)
	assert.Equal(t, 6*time.Hour, cfg.Evaluation.StaleAfter.Duration())
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.SweepInterval.Duration())
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8080\n"), 0644))
	require.NoError(t, os.Chmod(path, 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GROUNDD_VECTORSTORE_PROVIDER", "pinecone")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vectorstore provider")
}

func TestLoader_UnmarshalSection(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: console\n"), 0600))

	l, err := NewLoader(path)
	require.NoError(t, err)

	out := struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	}{Level: "info"}
	require.NoError(t, l.Unmarshal("logging", &out))
	assert.Equal(t, "console", out.Format)
	assert.Equal(t, "info", out.Level)

	missing := struct {
		Enabled bool `koanf:"enabled"`
	}{Enabled: true}
	require.NoError(t, l.Unmarshal("telemetry", &missing))
	assert.True(t, missing.Enabled)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"GROUNDD_SERVER_HTTP_PORT":           "server.http_port",
		"GROUNDD_LLM_OPENAI_API_KEY":         "llm.openai_api_key",
		"GROUNDD_CONVERSATION_STREAM_BUFFER": "conversation.stream_buffer",
		"GROUNDD_DEBUG":                      "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
