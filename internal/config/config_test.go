package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 20, cfg.Memory.WindowSize)
	assert.Equal(t, 10, cfg.Memory.RetrievalK)
	assert.Equal(t, 10, cfg.Memory.SummaryThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Memory.SessionTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.CrawlerTimeout)
	assert.Equal(t, "localhost:3000", cfg.Server.Address())
	assert.False(t, cfg.Auth.Required)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 8088
  crawler_url: http://crawler:8000/fetch
database:
  driver: sqlite
  path: /tmp/guardian.db
backend:
  model: qwen-max
  timeout: 45s
memory:
  summary_threshold: 6
profiles:
  seed_file: profiles.yaml
  watch: true
`)
	t.Setenv("GUARDIAN_BACKEND_MODEL", "qwen-plus")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_HOST", "db.internal")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "http://crawler:8000/fetch", cfg.Server.CrawlerURL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "qwen-plus", cfg.Backend.Model)
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 6, cfg.Memory.SummaryThreshold)
	assert.Equal(t, "profiles.yaml", cfg.Profiles.SeedFile)
	assert.True(t, cfg.Profiles.Watch)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := map[string]string{
		"driver":         "database:\n  driver: mysql\n",
		"threshold":      "memory:\n  summary_threshold: 0\n",
		"auth no secret": "auth:\n  required: true\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
