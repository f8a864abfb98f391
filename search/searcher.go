package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// Searcher performs semantic retrieval over stored document chunks.
type Searcher struct {
	chunks   storage.ChunkStore
	embedder ai.Embedder
	filter   *storage.ChunkFilter
	monitor  SearchMonitor
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMonitor sets the default monitor for Retrieve.
func WithMonitor(monitor SearchMonitor) Option {
	return func(s *Searcher) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		s.monitor = monitor
		return nil
	}
}

// WithFilter restricts every search to chunks matching filter.
func WithFilter(filter *storage.ChunkFilter) Option {
	return func(s *Searcher) error {
		s.filter = filter
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(chunks storage.ChunkStore, provider ai.AIProvider, opts ...Option) (*Searcher, error) {
	if chunks == nil {
		return nil, ErrChunkStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		chunks:   chunks,
		embedder: provider.Embedder(),
		monitor:  &noopMonitor{},
		logger:   slog.Default().With("component", "searcher"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Retrieve returns up to limit chunks ranked by similarity to query.
// Backend failures are wrapped with core.ErrTransientBackend.
func (s *Searcher) Retrieve(ctx context.Context, query string, limit int) ([]*core.Chunk, error) {
	return s.RetrieveWithMonitor(ctx, query, limit, s.monitor)
}

// RetrieveWithMonitor is Retrieve reporting to monitor instead of the default.
func (s *Searcher) RetrieveWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]*core.Chunk, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []*core.Chunk{}, nil
	}

	monitor.Start(query)

	start := time.Now()
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "err", err)
		err = fmt.Errorf("%w: embedding query: %w", core.ErrTransientBackend, err)
		monitor.Failed(err)
		return nil, err
	}
	monitor.AfterEmbedding(len(embedding), time.Since(start))

	start = time.Now()
	chunks, err := s.chunks.Search(ctx, core.NormalizeVector(embedding), limit, s.filter)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		err = fmt.Errorf("%w: %w", core.ErrTransientBackend, err)
		monitor.Failed(err)
		return nil, err
	}
	monitor.AfterChunkSearch(chunks, time.Since(start))

	s.logger.Debug("retrieved chunks", "count", len(chunks), "limit", limit)
	return chunks, nil
}
