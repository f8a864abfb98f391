package reindex

import (
	"context"
	"fmt"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage"
)

// BatchProcessor embeds batches of chunks and writes them back.
type BatchProcessor struct {
	chunks   storage.ChunkStore
	embedder ai.Embedder
	policy   retry.Policy
}

// NewBatchProcessor creates a new batch processor.
// policy bounds retries of the embedding call.
func NewBatchProcessor(chunks storage.ChunkStore, embedder ai.Embedder, policy retry.Policy) *BatchProcessor {
	return &BatchProcessor{
		chunks:   chunks,
		embedder: embedder,
		policy:   policy,
	}
}

// Process embeds the chunks' text and upserts them with the new vectors.
// Vectors are normalized before storage.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err := retry.Do(ctx, bp.policy, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.policy.MaxAttempts, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: expected %d, got %d", ai.ErrEmbeddingCount, len(chunks), len(embeddings))
	}

	updated := make([]*core.Chunk, len(chunks))
	for i, chunk := range chunks {
		c := *chunk
		c.Vector = core.NormalizeVector(embeddings[i])
		updated[i] = &c
	}

	if err := bp.chunks.UpsertChunks(ctx, updated...); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	return nil
}
