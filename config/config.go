// Package config builds the single Config value that every docchat component
// receives at start-up.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// DOCCHAT_* environment variables (a .env file in the working directory is
// read first when present). Validate runs last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/storage/minio"
	"github.com/poiesic/docchat/storage/qdrant"
	"gopkg.in/yaml.v3"
)

// Retrieval failure policies.
const (
	PolicyDegrade = "degrade"
	PolicyFail    = "fail"
)

// Backend names.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
	BackendLocal  = "local"
	BackendMinio  = "minio"
)

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // Empty disables the metrics listener
	APIPrefix       string        `yaml:"api_prefix"`
	AppName         string        `yaml:"app_name"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig locates the embedded database.
type StorageConfig struct {
	// Path of the BadgerDB directory. Empty runs in memory.
	Path string `yaml:"path"`
}

// UploadsConfig selects where uploaded PDFs are kept.
type UploadsConfig struct {
	Backend string       `yaml:"backend"`
	Dir     string       `yaml:"dir"`
	Minio   minio.Config `yaml:"minio"`
}

// VectorStoreConfig selects the chunk store.
type VectorStoreConfig struct {
	Backend string        `yaml:"backend"`
	Qdrant  qdrant.Config `yaml:"qdrant"`
}

// IngestionConfig tunes the ingestion worker pool.
type IngestionConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
	StageTimeout   time.Duration `yaml:"stage_timeout"`
}

// RetrievalConfig tunes chunk retrieval and context assembly.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	Threshold     float32 `yaml:"threshold"`
	HistoryWindow int     `yaml:"history_window"`
	// FailurePolicy is "degrade" (answer from history only) or "fail" (fail the turn)
	// once retrieval retries are exhausted.
	FailurePolicy  string        `yaml:"failure_policy"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
}

// GenerationConfig tunes the LLM call.
type GenerationConfig struct {
	Temperature       float64       `yaml:"temperature"`
	MaxContextLength  int           `yaml:"max_context_length"`
	MaxResponseTokens int           `yaml:"max_response_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	PersistTimeout    time.Duration `yaml:"persist_timeout"`
	TitleTimeout      time.Duration `yaml:"title_timeout"`
	// RateLimit caps generation requests per second; zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Config is the complete application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Uploads     UploadsConfig     `yaml:"uploads"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	AI          ai.Config         `yaml:"ai"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Generation  GenerationConfig  `yaml:"generation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	qcfg := qdrant.DefaultConfig()
	qcfg.Dimension = 0 // follows ai.embedding_dimension

	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MetricsAddr:     ":9090",
			APIPrefix:       "/api/v1",
			AppName:         "Advanced RAG System",
			MaxUploadBytes:  50 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Path: "docchat.db"},
		Uploads: UploadsConfig{
			Backend: BackendLocal,
			Dir:     "uploads",
			Minio:   minio.Config{Bucket: "docchat-uploads", CreateBucket: true},
		},
		VectorStore: VectorStoreConfig{
			Backend: BackendBadger,
			Qdrant:  qcfg,
		},
		AI: *aiCfg,
		Ingestion: IngestionConfig{
			Workers:        4,
			QueueSize:      100,
			ChunkSize:      512,
			ChunkOverlap:   50,
			EmbedBatchSize: 32,
			StageTimeout:   5 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			TopK:           10,
			Threshold:      0.6,
			HistoryWindow:  5,
			FailurePolicy:  PolicyDegrade,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Timeout:        10 * time.Second,
		},
		Generation: GenerationConfig{
			Temperature:       0.7,
			MaxContextLength:  8192,
			MaxResponseTokens: 2048,
			Timeout:           2 * time.Minute,
			PersistTimeout:    10 * time.Second,
			TitleTimeout:      30 * time.Second,
			RateBurst:         1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment. A missing file is not an error; an empty path skips it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills derived values.
func (c *Config) Normalize() {
	c.AI.Normalize()
	if c.VectorStore.Qdrant.Dimension == 0 {
		c.VectorStore.Qdrant.Dimension = c.AI.EmbeddingDimension
	}
	c.Server.APIPrefix = strings.TrimSuffix(c.Server.APIPrefix, "/")
}

// Validate checks every section and reports all problems at once.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		add("server.api_prefix must start with /")
	}
	if c.Server.MaxUploadBytes <= 0 {
		add("server.max_upload_bytes must be positive")
	}

	switch c.Uploads.Backend {
	case BackendLocal:
		if c.Uploads.Dir == "" {
			add("uploads.dir is required for the local backend")
		}
	case BackendMinio:
		if c.Uploads.Minio.Endpoint == "" || c.Uploads.Minio.Bucket == "" {
			add("uploads.minio endpoint and bucket are required")
		}
	default:
		add("unknown uploads backend %q", c.Uploads.Backend)
	}

	switch c.VectorStore.Backend {
	case BackendBadger:
	case BackendQdrant:
		if err := c.VectorStore.Qdrant.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.VectorStore.Qdrant.Dimension != c.AI.EmbeddingDimension {
			add("vector_store.qdrant.dimension %d differs from ai.embedding_dimension %d",
				c.VectorStore.Qdrant.Dimension, c.AI.EmbeddingDimension)
		}
	default:
		add("unknown vector store backend %q", c.VectorStore.Backend)
	}

	if err := c.AI.Validate(); err != nil {
		errs = append(errs, err)
	}

	in := c.Ingestion
	if in.Workers < 1 {
		add("ingestion.workers must be at least 1")
	}
	if in.QueueSize < 1 {
		add("ingestion.queue_size must be at least 1")
	}
	if in.ChunkSize < 1 {
		add("ingestion.chunk_size must be positive")
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		add("ingestion.chunk_overlap must be in [0, chunk_size)")
	}
	if in.EmbedBatchSize < 1 {
		add("ingestion.embed_batch_size must be at least 1")
	}

	r := c.Retrieval
	if r.TopK < 1 {
		add("retrieval.top_k must be at least 1")
	}
	if r.Threshold < -1 || r.Threshold > 1 {
		add("retrieval.threshold must be within [-1, 1]")
	}
	if r.HistoryWindow < 0 {
		add("retrieval.history_window cannot be negative")
	}
	if r.FailurePolicy != PolicyDegrade && r.FailurePolicy != PolicyFail {
		add("retrieval.failure_policy must be %q or %q", PolicyDegrade, PolicyFail)
	}
	if r.MaxAttempts < 1 {
		add("retrieval.max_attempts must be at least 1")
	}

	g := c.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		add("generation.temperature must be within [0, 2]")
	}
	if g.MaxContextLength < 1 || g.MaxResponseTokens < 1 {
		add("generation.max_context_length and max_response_tokens must be positive")
	}
	if g.RateLimit < 0 {
		add("generation.rate_limit cannot be negative")
	}

	return errors.Join(errs...)
}
