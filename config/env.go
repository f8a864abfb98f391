package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment variable read by Load.
const EnvPrefix = "DOCCHAT_"

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

type lookupFunc func(key string) (string, bool)

// envBinding ties one variable to one field.
type envBinding struct {
	name string
	set  func(cfg *Config, value string) error
}

func str(f func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*f(c) = v
		return nil
	}
}

func integer(f func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func integer64(f func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func float(f func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func float32v(f func(*Config) *float32) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		*f(c) = float32(n)
		return nil
	}
}

func boolean(f func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*f(c) = b
		return nil
	}
}

func duration(f func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*f(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.Server.MetricsAddr })},
	{"API_PREFIX", str(func(c *Config) *string { return &c.Server.APIPrefix })},
	{"APP_NAME", str(func(c *Config) *string { return &c.Server.AppName })},
	{"MAX_UPLOAD_BYTES", integer64(func(c *Config) *int64 { return &c.Server.MaxUploadBytes })},

	{"DB_PATH", str(func(c *Config) *string { return &c.Storage.Path })},

	{"UPLOADS_BACKEND", str(func(c *Config) *string { return &c.Uploads.Backend })},
	{"UPLOAD_DIR", str(func(c *Config) *string { return &c.Uploads.Dir })},
	{"MINIO_ENDPOINT", str(func(c *Config) *string { return &c.Uploads.Minio.Endpoint })},
	{"MINIO_ACCESS_KEY", str(func(c *Config) *string { return &c.Uploads.Minio.AccessKeyID })},
	{"MINIO_SECRET_KEY", str(func(c *Config) *string { return &c.Uploads.Minio.SecretAccessKey })},
	{"MINIO_BUCKET", str(func(c *Config) *string { return &c.Uploads.Minio.Bucket })},
	{"MINIO_USE_SSL", boolean(func(c *Config) *bool { return &c.Uploads.Minio.UseSSL })},

	{"VECTOR_STORE", str(func(c *Config) *string { return &c.VectorStore.Backend })},
	{"QDRANT_HOST", str(func(c *Config) *string { return &c.VectorStore.Qdrant.Host })},
	{"QDRANT_PORT", integer(func(c *Config) *int { return &c.VectorStore.Qdrant.Port })},
	{"QDRANT_API_KEY", str(func(c *Config) *string { return &c.VectorStore.Qdrant.APIKey })},
	{"QDRANT_DIMENSION", integer(func(c *Config) *int { return &c.VectorStore.Qdrant.Dimension })},
	{"QDRANT_COLLECTION", str(func(c *Config) *string { return &c.VectorStore.Qdrant.Collection })},
	{"QDRANT_RECREATE_ON_MISMATCH", boolean(func(c *Config) *bool { return &c.VectorStore.Qdrant.RecreateOnMismatch })},

	{"LLM_HOST", str(func(c *Config) *string { return &c.AI.ChatHost })},
	{"LLM_MODEL", str(func(c *Config) *string { return &c.AI.ChatModel })},
	{"EMBEDDING_HOST", str(func(c *Config) *string { return &c.AI.EmbeddingHost })},
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.AI.EmbeddingModel })},
	{"EMBEDDING_DIMENSION", integer(func(c *Config) *int { return &c.AI.EmbeddingDimension })},
	{"API_KEY", str(func(c *Config) *string { return &c.AI.APIKey })},

	{"WORKERS", integer(func(c *Config) *int { return &c.Ingestion.Workers })},
	{"QUEUE_SIZE", integer(func(c *Config) *int { return &c.Ingestion.QueueSize })},
	{"CHUNK_SIZE", integer(func(c *Config) *int { return &c.Ingestion.ChunkSize })},
	{"CHUNK_OVERLAP", integer(func(c *Config) *int { return &c.Ingestion.ChunkOverlap })},
	{"STAGE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Ingestion.StageTimeout })},

	{"TOP_K", integer(func(c *Config) *int { return &c.Retrieval.TopK })},
	{"RAG_THRESHOLD", float32v(func(c *Config) *float32 { return &c.Retrieval.Threshold })},
	{"HISTORY_WINDOW", integer(func(c *Config) *int { return &c.Retrieval.HistoryWindow })},
	{"RETRIEVAL_FAILURE_POLICY", str(func(c *Config) *string { return &c.Retrieval.FailurePolicy })},
	{"RETRIEVAL_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Retrieval.MaxAttempts })},
	{"RETRIEVAL_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Retrieval.Timeout })},

	{"TEMPERATURE", float(func(c *Config) *float64 { return &c.Generation.Temperature })},
	{"MAX_CONTEXT_LENGTH", integer(func(c *Config) *int { return &c.Generation.MaxContextLength })},
	{"MAX_RESPONSE_TOKENS", integer(func(c *Config) *int { return &c.Generation.MaxResponseTokens })},
	{"GENERATION_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Generation.Timeout })},
	{"RATE_LIMIT", float(func(c *Config) *float64 { return &c.Generation.RateLimit })},
}

// applyEnv overlays DOCCHAT_* variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, b := range envBindings {
		value, ok := lookup(EnvPrefix + b.name)
		if !ok || value == "" {
			continue
		}
		if err := b.set(cfg, value); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.name, value, err)
		}
	}
	return nil
}
