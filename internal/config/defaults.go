package config

import "time"

// DataDir is the base of the default on-disk locations.
const DataDir = "/usr/local/var/ingestd/data"

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.JobStore.Type == "" {
		cfg.JobStore.Type = "memory"
	}
	if cfg.JobStore.TTLSeconds == 0 {
		cfg.JobStore.TTLSeconds = 3600
	}
	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "memory"
	}
	if cfg.Queue.Key == "" {
		cfg.Queue.Key = "ingestd:queue"
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 1024
	}
	if cfg.Queue.Lease == 0 {
		cfg.Queue.Lease = 30 * time.Second
	}
	if cfg.Blob.Type == "" {
		cfg.Blob.Type = "disk"
	}
	if cfg.Blob.Type == "disk" && cfg.Blob.Root == "" {
		cfg.Blob.Root = DataDir + "/blobs"
	}
	if cfg.Blob.Region == "" {
		cfg.Blob.Region = "us-east-1"
	}
	if cfg.Keyword.Path == "" {
		cfg.Keyword.Path = DataDir + "/indices/bleve"
	}
	if cfg.Keyword.Alias == "" {
		cfg.Keyword.Alias = "chunks_current"
	}
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "chunks_v1"
	}
	if cfg.Vector.Type == "memory" && cfg.Vector.SnapshotDir == "" {
		cfg.Vector.SnapshotDir = DataDir + "/indices/vectors"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Catalog.Type == "" {
		cfg.Catalog.Type = "sqlite"
	}
	if cfg.Catalog.Type == "sqlite" && cfg.Catalog.Path == "" {
		cfg.Catalog.Path = DataDir + "/db/catalog.db"
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.RetryBaseDelay == 0 {
		cfg.Pipeline.RetryBaseDelay = time.Second
	}
	if cfg.Pipeline.RetryMaxDelay == 0 {
		cfg.Pipeline.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.DefaultTags == nil {
		cfg.Pipeline.DefaultTags = map[string]string{"language": "en"}
	}
	if cfg.Normalize.Threshold == 0 {
		cfg.Normalize.Threshold = 3
	}
	if cfg.Normalize.MinLineLen == 0 {
		cfg.Normalize.MinLineLen = 10
	}
	if cfg.Normalize.MinCountLen == 0 {
		cfg.Normalize.MinCountLen = 5
	}
	if cfg.Normalize.MinTextLen == 0 {
		cfg.Normalize.MinTextLen = 50
	}
	if cfg.Normalize.MinLines == 0 {
		cfg.Normalize.MinLines = 10
	}
	if cfg.Chunk.MaxFallbackChars == 0 {
		cfg.Chunk.MaxFallbackChars = 500
	}
	if cfg.Chunk.TokensPerWord == 0 {
		cfg.Chunk.TokensPerWord = 1.3
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ingestd"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if cfg.Watch.Enabled && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
