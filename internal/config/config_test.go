package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, int64(1048576), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, cfg.Webhook.RetryAfter)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, int64(10000), cfg.Queue.MaxSize)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Queue.BatchWait)
	assert.Equal(t, 3, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Worker.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Worker.BackoffCap)
	assert.Equal(t, "nats://localhost:4222", cfg.DeadLetter.NatsURL)
	assert.Equal(t, "CRMSYNC_DLQ", cfg.DeadLetter.Stream)
	assert.Equal(t, "http://localhost:8090", cfg.Memory.URL)
	assert.Contains(t, cfg.Sync.CriticalFields, "Account_Status")
	assert.Contains(t, cfg.Sync.CriticalFields, "Health_Score")
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// The signing secret has no default; main refuses to start without it.
	assert.Empty(t, cfg.Webhook.SigningSecret)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
webhook:
  signing_secret: file-secret
  retry_after: 10s
queue:
  max_size: 500
worker:
  count: 8
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Webhook.SigningSecret)
	assert.Equal(t, 10*time.Second, cfg.Webhook.RetryAfter)
	assert.Equal(t, int64(500), cfg.Queue.MaxSize)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset keys still fall back to defaults.
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CRMSYNC_SERVER_PORT", "7070")
	t.Setenv("CRMSYNC_WEBHOOK_SIGNING_SECRET", "env-secret")
	t.Setenv("CRMSYNC_DEDUP_TTL", "90s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Webhook.SigningSecret)
	assert.Equal(t, 90*time.Second, cfg.Dedup.TTL)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
