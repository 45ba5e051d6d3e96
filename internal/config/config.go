// Package config provides configuration loading and structs for the ingestd server and workers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	JobStore  JobStoreConfig  `yaml:"job_store"`
	Queue     QueueConfig     `yaml:"queue"`
	Blob      BlobConfig      `yaml:"blob"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig is shared by the redis job store and queue.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// JobStoreConfig selects where job records live.
type JobStoreConfig struct {
	Type       string `yaml:"type"` // memory | redis
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the record lifetime.
func (j JobStoreConfig) TTL() time.Duration {
	return time.Duration(j.TTLSeconds) * time.Second
}

// QueueConfig selects the task queue.
type QueueConfig struct {
	Type     string        `yaml:"type"` // memory | redis
	Key      string        `yaml:"key"`
	Capacity int           `yaml:"capacity"`
	Consumer string        `yaml:"consumer"` // stable worker id; random when empty
	Lease    time.Duration `yaml:"lease"`
}

// BlobConfig selects and configures the blob source.
type BlobConfig struct {
	Type             string `yaml:"type"` // disk | s3 | minio | azure
	Root             string `yaml:"root"`
	Bucket           string `yaml:"bucket"` // azure: container
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"` // azure: account key
	UsePathStyle     bool   `yaml:"use_path_style"`
	CreateBucket     bool   `yaml:"create_bucket"`
	Account          string `yaml:"account"`
	ConnectionString string `yaml:"connection_string"`
}

// KeywordConfig holds the lexical index location and alias.
type KeywordConfig struct {
	Path  string `yaml:"path"`
	Alias string `yaml:"alias"`
}

// VectorConfig selects the vector backend.
type VectorConfig struct {
	Type        string `yaml:"type"` // memory | pgvector
	DSN         string `yaml:"dsn"`
	Collection  string `yaml:"collection"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// CatalogConfig holds the document catalog settings.
type CatalogConfig struct {
	Type string `yaml:"type"` // sqlite | memory
	Path string `yaml:"path"`
}

// PipelineConfig holds worker and retry settings.
type PipelineConfig struct {
	Workers        int               `yaml:"workers"`
	MaxRetries     *int              `yaml:"max_retries"`
	RetryBaseDelay time.Duration     `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration     `yaml:"retry_max_delay"`
	StageTimeout   time.Duration     `yaml:"stage_timeout"`
	VerifyParity   bool              `yaml:"verify_parity"`
	DefaultTags    map[string]string `yaml:"default_tags"`
}

// MaxRetriesOrDefault returns max_retries, or 2 when unset.
func (p *PipelineConfig) MaxRetriesOrDefault() int {
	if p.MaxRetries != nil {
		return *p.MaxRetries
	}
	return 2
}

// NormalizeConfig tunes repeated header/footer stripping.
type NormalizeConfig struct {
	Threshold   int `yaml:"threshold"`
	MinLineLen  int `yaml:"min_line_len"`
	MinCountLen int `yaml:"min_count_len"`
	MinTextLen  int `yaml:"min_text_len"`
	MinLines    int `yaml:"min_lines"`
}

// ChunkConfig tunes the chunk builder.
type ChunkConfig struct {
	MaxFallbackChars int     `yaml:"max_fallback_chars"`
	TokensPerWord    float64 `yaml:"tokens_per_word"`
	MaxChunks        int     `yaml:"max_chunks"`
}

// TelemetryConfig holds tracing settings. Metrics are always served on /metrics.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// WatchConfig holds blob-root watch settings. Only the disk blob source can be watched.
type WatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
	SyncOnStart bool          `yaml:"sync_on_start"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads the config file at path, expands ${VAR} references from the
// environment, applies defaults, resolves paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Blob.Root = expandPath(cfg.Blob.Root, configDir)
	cfg.Keyword.Path = expandPath(cfg.Keyword.Path, configDir)
	cfg.Vector.SnapshotDir = expandPath(cfg.Vector.SnapshotDir, configDir)
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks enumerated settings and cross-section requirements.
func (c *Config) Validate() error {
	var problems []string
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s: %q not one of %s", field, v, strings.Join(allowed, ", ")))
	}
	oneOf("job_store.type", c.JobStore.Type, "memory", "redis")
	oneOf("queue.type", c.Queue.Type, "memory", "redis")
	oneOf("blob.type", c.Blob.Type, "disk", "s3", "minio", "azure")
	oneOf("vector.type", c.Vector.Type, "memory", "pgvector")
	oneOf("catalog.type", c.Catalog.Type, "sqlite", "memory")

	if (c.JobStore.Type == "redis" || c.Queue.Type == "redis") && c.Redis.URL == "" {
		problems = append(problems, "redis.url is required for redis job_store or queue")
	}
	if c.Blob.Type != "disk" && c.Blob.Bucket == "" {
		problems = append(problems, "blob.bucket is required for "+c.Blob.Type)
	}
	if c.Blob.Type == "azure" && c.Blob.ConnectionString == "" && c.Blob.Account == "" && c.Blob.Endpoint == "" {
		problems = append(problems, "blob.connection_string, blob.account or blob.endpoint is required for azure")
	}
	if c.Vector.Type == "pgvector" && c.Vector.DSN == "" {
		problems = append(problems, "vector.dsn is required for pgvector")
	}
	if c.Watch.Enabled && c.Blob.Type != "disk" {
		problems = append(problems, "watch.enabled requires blob.type disk")
	}
	if c.Pipeline.MaxRetriesOrDefault() < 0 {
		problems = append(problems, "pipeline.max_retries must not be negative")
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
