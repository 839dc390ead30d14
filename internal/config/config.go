// Package config provides configuration management for skillpipe.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38080

	// DefaultCleanModel is the cheap model used to condense descriptions
	// before extraction.
	DefaultCleanModel = "gpt-4o-mini"

	// DefaultExtractModel is the stronger model used for skill extraction.
	DefaultExtractModel = "gpt-5"

	// DefaultNormalizeModel is the model used for canonical-name resolution.
	DefaultNormalizeModel = "gpt-4o-mini"

	// DefaultEmbedModel is the embedding model for skill vectors.
	DefaultEmbedModel = "text-embedding-3-small"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort   int    `json:"worker_port"`
	CronSchedule string `json:"cron_schedule"` // empty disables scheduled runs

	// Database settings
	DatabaseDSN string `json:"database_dsn"`
	MaxConns    int    `json:"max_conns"`

	// LLM settings
	OpenAIAPIKey   string `json:"openai_api_key"`
	OpenAIBaseURL  string `json:"openai_base_url"`
	CleanModel     string `json:"clean_model"`
	ExtractModel   string `json:"extract_model"`
	NormalizeModel string `json:"normalize_model"`
	EmbedModel     string `json:"embed_model"`

	// Extraction settings
	ExtractBatchSize int           `json:"extract_batch_size"` // concurrent in-flight documents per batch
	MaxChunkChars    int           `json:"max_chunk_chars"`    // sentence-bounded chunk ceiling
	FlushEvery       int           `json:"flush_every"`        // ledger flush cadence in documents
	InterBatchDelay  time.Duration `json:"inter_batch_delay"`  // blunt rate-limit pause between batches

	// Normalization settings
	NormalizeChunkSize int `json:"normalize_chunk_size"` // unique skills per LLM call
	MinBatchFloor      int `json:"min_batch_floor"`      // defer runs with fewer new documents

	// Embedding settings
	EmbedBatchSize  int `json:"embed_batch_size"`
	InsertBatchSize int `json:"insert_batch_size"`

	// Clustering settings
	ClusterTopK      int     `json:"cluster_top_k"`
	ClusterThreshold float64 `json:"cluster_threshold"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:         DefaultWorkerPort,
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		MaxConns:           10,
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      "https://api.openai.com/v1",
		CleanModel:         DefaultCleanModel,
		ExtractModel:       DefaultExtractModel,
		NormalizeModel:     DefaultNormalizeModel,
		EmbedModel:         DefaultEmbedModel,
		ExtractBatchSize:   5,
		MaxChunkChars:      6000,
		FlushEvery:         25,
		InterBatchDelay:    time.Second,
		NormalizeChunkSize: 200,
		MinBatchFloor:      5,
		EmbedBatchSize:     100,
		InsertBatchSize:    100,
		ClusterTopK:        5,
		ClusterThreshold:   0.7,
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// SettingsPath returns the settings file path, overridable via SKILLPIPE_SETTINGS.
func SettingsPath() string {
	if p := os.Getenv("SKILLPIPE_SETTINGS"); p != "" {
		return p
	}
	return "skillpipe.settings.json"
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables win over file values for secrets and the DSN.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		applyEnv(cfg)
		return cfg, nil // fall back to defaults on a corrupt settings file
	}

	if v, ok := settings["SKILLPIPE_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["SKILLPIPE_CRON_SCHEDULE"].(string); ok {
		cfg.CronSchedule = v
	}
	if v, ok := settings["SKILLPIPE_DATABASE_DSN"].(string); ok && v != "" {
		cfg.DatabaseDSN = v
	}
	if v, ok := settings["SKILLPIPE_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}
	if v, ok := settings["SKILLPIPE_OPENAI_BASE_URL"].(string); ok && v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v, ok := settings["SKILLPIPE_CLEAN_MODEL"].(string); ok && v != "" {
		cfg.CleanModel = v
	}
	if v, ok := settings["SKILLPIPE_EXTRACT_MODEL"].(string); ok && v != "" {
		cfg.ExtractModel = v
	}
	if v, ok := settings["SKILLPIPE_NORMALIZE_MODEL"].(string); ok && v != "" {
		cfg.NormalizeModel = v
	}
	if v, ok := settings["SKILLPIPE_EMBED_MODEL"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := settings["SKILLPIPE_EXTRACT_BATCH_SIZE"].(float64); ok && v > 0 {
		cfg.ExtractBatchSize = int(v)
	}
	if v, ok := settings["SKILLPIPE_MAX_CHUNK_CHARS"].(float64); ok && v > 0 {
		cfg.MaxChunkChars = int(v)
	}
	if v, ok := settings["SKILLPIPE_FLUSH_EVERY"].(float64); ok && v > 0 {
		cfg.FlushEvery = int(v)
	}
	if v, ok := settings["SKILLPIPE_INTER_BATCH_DELAY_MS"].(float64); ok && v >= 0 {
		cfg.InterBatchDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := settings["SKILLPIPE_NORMALIZE_CHUNK_SIZE"].(float64); ok && v > 0 {
		cfg.NormalizeChunkSize = int(v)
	}
	if v, ok := settings["SKILLPIPE_MIN_BATCH_FLOOR"].(float64); ok && v >= 0 {
		cfg.MinBatchFloor = int(v)
	}
	if v, ok := settings["SKILLPIPE_EMBED_BATCH_SIZE"].(float64); ok && v > 0 {
		cfg.EmbedBatchSize = int(v)
	}
	if v, ok := settings["SKILLPIPE_INSERT_BATCH_SIZE"].(float64); ok && v > 0 {
		cfg.InsertBatchSize = int(v)
	}
	if v, ok := settings["SKILLPIPE_CLUSTER_TOP_K"].(float64); ok && v > 0 {
		cfg.ClusterTopK = int(v)
	}
	if v, ok := settings["SKILLPIPE_CLUSTER_THRESHOLD"].(float64); ok && v > 0 && v <= 1 {
		cfg.ClusterThreshold = v
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables that must beat file settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("SKILLPIPE_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})
	return globalConfig
}
