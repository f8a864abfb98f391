package reindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/progress"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage"
)

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of chunks to embed in each call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Retry bounds retries of each embedding call
	Retry retry.Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Retry: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
		},
	}
}

// Summary reports what a run touched.
type Summary struct {
	Documents int
	Chunks    int
	Elapsed   time.Duration
}

// Reindexer orchestrates re-embedding of every stored chunk.
type Reindexer struct {
	chunks    storage.ChunkStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(documents storage.DocumentRepository, chunks storage.ChunkStore, embedder ai.Embedder, config *Config, progress io.Writer) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reindexer{
		chunks:    chunks,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(chunks, embedder, config.Retry),
		iterator:  NewChunkIterator(documents, chunks, config.BatchSize),
	}
}

// Run re-embeds the chunks of every completed document.
func (r *Reindexer) Run(ctx context.Context) (*Summary, error) {
	docs, err := r.iterator.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	total := 0
	for _, doc := range docs {
		n, err := r.chunks.CountDocumentChunks(ctx, doc.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to count chunks of document %d: %w", doc.Id, err)
		}
		total += n
	}

	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found (0 chunks)\n")
		return &Summary{}, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d chunks in %d documents (batch size: %d)\n",
		total, len(docs), r.config.BatchSize)

	tracker := progress.NewTracker(r.progress, "chunks", total, r.config.ReportInterval)
	tracker.Start()

	seen := make(map[core.ID]struct{}, len(docs))
	err = r.iterator.ForEach(ctx, func(doc *core.Document, chunks []*core.Chunk) error {
		if err := r.processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("failed to process batch of document %d: %w", doc.Id, err)
		}
		seen[doc.Id] = struct{}{}
		tracker.Increment(len(chunks))
		return nil
	})
	if err != nil {
		return nil, err
	}

	tracker.Finish()

	done, _ := tracker.Counts()
	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		done, elapsed.Round(time.Second), float64(done)/elapsed.Seconds())

	return &Summary{Documents: len(seen), Chunks: done, Elapsed: elapsed}, nil
}
