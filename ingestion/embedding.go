package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
)

// embedTexts embeds texts in batches of batchSize and returns one
// normalized vector per text, in order.
func embedTexts(ctx context.Context, embedder ai.Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize < 1 {
		batchSize = len(texts)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingCount, end-start, len(batch))
		}
		for _, v := range batch {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector", ai.ErrEmbeddingCount)
			}
			vectors = append(vectors, core.NormalizeVector(v))
		}
	}
	return vectors, nil
}
