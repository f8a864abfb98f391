// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package docchat wires the document store, chunk store, AI provider,
// ingestion coordinator and chat orchestrator into one application.
package docchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/ai/openai"
	"github.com/poiesic/docchat/api"
	"github.com/poiesic/docchat/config"
	"github.com/poiesic/docchat/ingestion"
	"github.com/poiesic/docchat/metrics"
	"github.com/poiesic/docchat/rag"
	"github.com/poiesic/docchat/reindex"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/search"
	"github.com/poiesic/docchat/storage"
	"github.com/poiesic/docchat/storage/badger"
	"github.com/poiesic/docchat/storage/localfs"
	"github.com/poiesic/docchat/storage/minio"
	"github.com/poiesic/docchat/storage/qdrant"
)

// Version is reported by the root route and the CLI.
const Version = "1.0.0"

type App struct {
	cfg      *config.Config
	repos    *badger.Repositories
	chunks   storage.ChunkStore
	blobs    storage.BlobStore
	provider ai.AIProvider
	metrics  *metrics.Metrics

	searcher     *search.Searcher
	orchestrator *rag.Orchestrator
	coordinator  *ingestion.Coordinator
	logger       *slog.Logger
}

// Option configures an App.
type Option func(*options)

type options struct {
	provider      ai.AIProvider
	logger        *slog.Logger
	ingestionOpts []ingestion.Option
}

// WithProvider uses provider instead of building the OpenAI-compatible one from configuration.
// The App takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIngestionOptions appends options to the ingestion coordinator.
func WithIngestionOptions(opts ...ingestion.Option) Option {
	return func(o *options) {
		o.ingestionOpts = append(o.ingestionOpts, opts...)
	}
}

// New opens every store named by cfg and builds the services on top of them.
// cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	options := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	app := &App{
		cfg:     cfg,
		metrics: metrics.New(metrics.Config{Namespace: "docchat", EnableDefaultCollectors: true}),
		logger:  options.logger,
	}
	if err := app.open(ctx, options); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context, options *options) error {
	cfg := a.cfg

	dimension := 0
	if cfg.VectorStore.Backend == config.BackendBadger {
		dimension = cfg.AI.EmbeddingDimension
	}
	repos, err := badger.OpenRepositories(cfg.Storage.Path, dimension)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.repos = repos

	switch cfg.VectorStore.Backend {
	case config.BackendQdrant:
		a.chunks, err = qdrant.NewChunkStore(ctx, cfg.VectorStore.Qdrant)
		if err != nil {
			return fmt.Errorf("opening qdrant chunk store: %w", err)
		}
	default:
		a.chunks = repos.Chunks
	}

	switch cfg.Uploads.Backend {
	case config.BackendMinio:
		a.blobs, err = minio.NewBlobStore(ctx, cfg.Uploads.Minio)
	default:
		a.blobs, err = localfs.NewBlobStore(cfg.Uploads.Dir)
	}
	if err != nil {
		return fmt.Errorf("opening upload store: %w", err)
	}

	a.provider = options.provider
	if a.provider == nil {
		a.provider, err = openai.NewProvider(&cfg.AI)
		if err != nil {
			return fmt.Errorf("creating AI provider: %w", err)
		}
	}

	a.searcher, err = search.NewSearcher(a.chunks, a.provider,
		search.WithLogger(a.logger),
		search.WithMonitor(a.metrics.Search()),
	)
	if err != nil {
		return err
	}

	policy, err := rag.ParseRetrievalPolicy(cfg.Retrieval.FailurePolicy)
	if err != nil {
		return err
	}
	settings := rag.Settings{
		Policy: policy,
		Retry: retry.Policy{
			MaxAttempts:     cfg.Retrieval.MaxAttempts,
			InitialInterval: cfg.Retrieval.InitialBackoff,
			MaxInterval:     cfg.Retrieval.MaxBackoff,
			AttemptTimeout:  cfg.Retrieval.Timeout,
		},
		Generation: rag.GenerationSettings{
			Temperature:       cfg.Generation.Temperature,
			MaxContextLength:  cfg.Generation.MaxContextLength,
			MaxResponseTokens: cfg.Generation.MaxResponseTokens,
		},
		GenerationTimeout: cfg.Generation.Timeout,
		PersistTimeout:    cfg.Generation.PersistTimeout,
		TitleTimeout:      cfg.Generation.TitleTimeout,
	}
	a.orchestrator, err = rag.NewOrchestrator(a.repos.Conversations, a.searcher, a.provider.ChatModel(),
		rag.WithLogger(a.logger),
		rag.WithMonitor(a.metrics.Turns()),
		rag.WithAssembler(rag.Assembler{
			Threshold:     cfg.Retrieval.Threshold,
			TopK:          cfg.Retrieval.TopK,
			HistoryWindow: cfg.Retrieval.HistoryWindow,
		}),
		rag.WithSettings(settings),
		rag.WithRateLimit(cfg.Generation.RateLimit, cfg.Generation.RateBurst),
	)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	ingestOpts := []ingestion.Option{
		ingestion.WithLogger(a.logger),
		ingestion.WithPoolSize(cfg.Ingestion.Workers),
		ingestion.WithQueueSize(cfg.Ingestion.QueueSize),
		ingestion.WithChunking(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		ingestion.WithEmbedBatchSize(cfg.Ingestion.EmbedBatchSize),
		ingestion.WithStageTimeout(cfg.Ingestion.StageTimeout),
		ingestion.WithMonitor(a.metrics.Ingestion()),
	}
	a.coordinator, err = ingestion.NewCoordinator(a.repos.Documents, a.repos.Tasks, a.chunks, a.blobs, a.provider,
		append(ingestOpts, options.ingestionOpts...)...)
	if err != nil {
		return fmt.Errorf("creating ingestion coordinator: %w", err)
	}
	return nil
}

// Close releases the coordinator, the AI provider and every store.
func (a *App) Close() error {
	if a.coordinator != nil {
		a.coordinator.Release()
	}

	var errs []error
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if a.chunks != nil && a.repos != nil && a.chunks != a.repos.Chunks {
		if err := a.chunks.Close(); err != nil {
			a.logger.Error("error closing chunk store", "err", err)
			errs = append(errs, err)
		}
	}
	if a.repos != nil {
		if err := a.repos.Close(); err != nil {
			a.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) Config() *config.Config {
	return a.cfg
}

func (a *App) Documents() storage.DocumentRepository {
	return a.repos.Documents
}

func (a *App) Conversations() storage.ConversationRepository {
	return a.repos.Conversations
}

func (a *App) ChunkStore() storage.ChunkStore {
	return a.chunks
}

func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *App) Searcher() *search.Searcher {
	return a.searcher
}

func (a *App) Orchestrator() *rag.Orchestrator {
	return a.orchestrator
}

func (a *App) Coordinator() *ingestion.Coordinator {
	return a.coordinator
}

// NewServer builds the HTTP API over the App's services.
func (a *App) NewServer() (*api.Server, error) {
	return api.NewServer(a.repos.Documents, a.repos.Conversations, a.chunks, a.coordinator, a.orchestrator,
		api.WithLogger(a.logger),
		api.WithPrefix(a.cfg.Server.APIPrefix),
		api.WithAppInfo(a.cfg.Server.AppName, Version),
		api.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		api.WithRequestObserver(a.metrics),
	)
}

// NewReindexer builds a reindexer that re-embeds stored chunks, reporting progress to w.
func (a *App) NewReindexer(w io.Writer, batchSize int) *reindex.Reindexer {
	cfg := reindex.DefaultConfig()
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}
	return reindex.NewReindexer(a.repos.Documents, a.chunks, a.provider.Embedder(), cfg, w)
}
