package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, DefaultCleanModel, cfg.CleanModel)
	assert.Equal(t, DefaultExtractModel, cfg.ExtractModel)
	assert.Equal(t, DefaultEmbedModel, cfg.EmbedModel)
	assert.Equal(t, 5, cfg.ExtractBatchSize)
	assert.Equal(t, 6000, cfg.MaxChunkChars)
	assert.Equal(t, 200, cfg.NormalizeChunkSize)
	assert.Equal(t, 5, cfg.MinBatchFloor)
	assert.Equal(t, 100, cfg.EmbedBatchSize)
	assert.Equal(t, 5, cfg.ClusterTopK)
	assert.InDelta(t, 0.7, cfg.ClusterThreshold, 1e-9)
	assert.Equal(t, time.Second, cfg.InterBatchDelay)
}

func TestLoadMissingSettingsFile(t *testing.T) {
	t.Setenv("SKILLPIPE_SETTINGS", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillpipe.settings.json")
	payload := `{
		"SKILLPIPE_WORKER_PORT": 39000,
		"SKILLPIPE_CRON_SCHEDULE": "0 3 * * *",
		"SKILLPIPE_EXTRACT_MODEL": "gpt-5-mini",
		"SKILLPIPE_NORMALIZE_CHUNK_SIZE": 50,
		"SKILLPIPE_CLUSTER_THRESHOLD": 0.8,
		"SKILLPIPE_INTER_BATCH_DELAY_MS": 250
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	t.Setenv("SKILLPIPE_SETTINGS", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 39000, cfg.WorkerPort)
	assert.Equal(t, "0 3 * * *", cfg.CronSchedule)
	assert.Equal(t, "gpt-5-mini", cfg.ExtractModel)
	assert.Equal(t, 50, cfg.NormalizeChunkSize)
	assert.InDelta(t, 0.8, cfg.ClusterThreshold, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.InterBatchDelay)
	// untouched keys keep defaults
	assert.Equal(t, DefaultCleanModel, cfg.CleanModel)
}

func TestLoadCorruptSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillpipe.settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	t.Setenv("SKILLPIPE_SETTINGS", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillpipe.settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"SKILLPIPE_DATABASE_DSN": "file-dsn"}`), 0o644))
	t.Setenv("SKILLPIPE_SETTINGS", path)
	t.Setenv("DATABASE_URL", "env-dsn")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SKILLPIPE_WORKER_PORT", "40001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-dsn", cfg.DatabaseDSN)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 40001, cfg.WorkerPort)
}
