package reindex

import (
	"context"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

const (
	// DefaultBatchSize is the default number of chunks handed to fn at once
	DefaultBatchSize = 100
)

// ChunkIterator walks the chunks of every completed document in batches.
type ChunkIterator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkStore
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch (must be > 0)
func NewChunkIterator(documents storage.DocumentRepository, chunks storage.ChunkStore, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		documents: documents,
		chunks:    chunks,
		batchSize: batchSize,
	}
}

// Documents returns the documents the iterator visits.
func (it *ChunkIterator) Documents(ctx context.Context) ([]*core.Document, error) {
	docs, err := it.documents.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	completed := docs[:0]
	for _, doc := range docs {
		if doc.Status == core.DocumentCompleted {
			completed = append(completed, doc)
		}
	}
	return completed, nil
}

// ForEach calls fn with batches of chunks. A batch never mixes documents.
// Iteration stops on the first error from fn or when ctx is canceled.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func(doc *core.Document, chunks []*core.Chunk) error) error {
	docs, err := it.Documents(ctx)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := it.chunks.ListDocumentChunks(ctx, doc.Id)
		if err != nil {
			return err
		}

		for i := 0; i < len(chunks); i += it.batchSize {
			end := min(i+it.batchSize, len(chunks))
			if err := fn(doc, chunks[i:end]); err != nil {
				return err
			}

			// Check context after each batch
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	return nil
}
