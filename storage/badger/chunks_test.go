package badger

import (
	"context"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunks(docID core.ID, vectors ...[]float32) []*core.Chunk {
	chunks := make([]*core.Chunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(docID, i),
			DocumentId: docID,
			Ordinal:    i,
			Text:       "chunk",
			PageNumber: i/2 + 1,
			Filename:   "doc.pdf",
			Vector:     core.NormalizeVector(v),
		}
	}
	return chunks
}

func TestChunkStore_SearchOrdering(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	chunks := makeChunks(1,
		[]float32{1, 0, 0},
		[]float32{0, 1, 0},
		[]float32{1, 0, 0}, // ties with ordinal 0
		[]float32{0.7, 0.7, 0},
	)
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, chunks...))

	results, err := repos.Chunks.Search(ctx, []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Ordinal)
	assert.Equal(t, 2, results[1].Ordinal)
	assert.Equal(t, 3, results[2].Ordinal)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Nil(t, results[0].Vector)

	filtered, err := repos.Chunks.Search(ctx, []float32{1, 0, 0}, 10, &storage.ChunkFilter{MinScore: 0.9})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestChunkStore_DocumentFilter(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.UpsertChunks(ctx, makeChunks(1, []float32{1, 0})...))
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, makeChunks(2, []float32{1, 0})...))

	results, err := repos.Chunks.Search(ctx, []float32{1, 0}, 10, &storage.ChunkFilter{DocumentId: 2})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(2), results[0].DocumentId)
}

func TestChunkStore_ReplaceDocumentChunks(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.ReplaceDocumentChunks(ctx, 1, makeChunks(1, []float32{1}, []float32{1}, []float32{1})))
	count, err := repos.Chunks.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// A shorter re-ingestion must not leave stale chunks behind
	require.NoError(t, repos.Chunks.ReplaceDocumentChunks(ctx, 1, makeChunks(1, []float32{1}, []float32{1})))
	count, err = repos.Chunks.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := repos.Chunks.ListDocumentChunks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0, listed[0].Ordinal)
	assert.NotEmpty(t, listed[0].Vector)

	err = repos.Chunks.ReplaceDocumentChunks(ctx, 1, makeChunks(2, []float32{1}))
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	require.NoError(t, repos.Chunks.DeleteDocumentChunks(ctx, 1))
	count, err = repos.Chunks.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChunkStore_Dimension(t *testing.T) {
	repos := setupRepositories(t)
	store := NewChunkStore(repos.Backend, 3)
	ctx := context.Background()

	err := store.UpsertChunks(ctx, makeChunks(1, []float32{1, 0})...)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = store.Search(ctx, []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

// storedChunkKeys counts every chunk key of a document across generations.
func storedChunkKeys(t *testing.T, backend *Backend, documentID core.ID) int {
	t.Helper()
	count := 0
	err := backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeDocumentChunksPrefix(documentID), false, func(*badger.Item) error {
			count++
			return nil
		})
	}, false)
	require.NoError(t, err)
	return count
}

func largeChunks(docID core.ID, n, dim int, text string) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		vector := make([]float32, dim)
		vector[i%dim] = 1
		vector[(i+1)%dim] = 0.5
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(docID, i),
			DocumentId: docID,
			Ordinal:    i,
			Text:       text,
			PageNumber: i/6 + 1,
			Filename:   "manual.pdf",
			Vector:     core.NormalizeVector(vector),
		}
	}
	return chunks
}

func TestChunkStore_ReplaceLargeDocument(t *testing.T) {
	backend, err := OpenBackend(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	const dim = 768
	store := NewChunkStore(backend, dim)
	ctx := context.Background()

	first := largeChunks(1, 1600, dim, strings.Repeat("a", 512))
	require.NoError(t, store.ReplaceDocumentChunks(ctx, 1, first))

	count, err := store.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1600, count)

	// Re-ingestion of the same large document
	second := largeChunks(1, 1700, dim, strings.Repeat("b", 512))
	require.NoError(t, store.ReplaceDocumentChunks(ctx, 1, second))

	count, err = store.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1700, count)
	assert.Equal(t, 1700, storedChunkKeys(t, backend, 1))

	results, err := store.Search(ctx, second[5].Vector, 20, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, byte('b'), r.Text[0])
	}

	require.NoError(t, store.DeleteDocumentChunks(ctx, 1))
	assert.Zero(t, storedChunkKeys(t, backend, 1))
}

func TestChunkStore_UnpublishedGenerationIsInvisible(t *testing.T) {
	repos := setupRepositories(t)
	store := repos.Chunks.(*ChunkStore)
	ctx := context.Background()

	require.NoError(t, store.ReplaceDocumentChunks(ctx, 1, makeChunks(1, []float32{1, 0}, []float32{0, 1})))

	// Chunks written under the next generation but never published, as after a crash
	var current uint64
	require.NoError(t, repos.Backend.WithTx(func(tx *badger.Txn) error {
		var err error
		current, err = readGeneration(tx, 1)
		return err
	}, false))
	orphans := makeChunks(1, []float32{1, 0}, []float32{1, 0}, []float32{1, 0})
	require.NoError(t, store.writeChunks(ctx, orphans, func(*core.Chunk) uint64 { return current + 1 }))

	count, err := store.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := store.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	listed, err := store.ListDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	// The next replacement clears the orphans before publishing
	require.NoError(t, store.ReplaceDocumentChunks(ctx, 1, makeChunks(1, []float32{0, 1})))
	count, err = store.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, storedChunkKeys(t, repos.Backend, 1))
}

func TestChunkStore_UpsertAfterDelete(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.ReplaceDocumentChunks(ctx, 1, makeChunks(1, []float32{1, 0})))
	require.NoError(t, repos.Chunks.DeleteDocumentChunks(ctx, 1))
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, makeChunks(1, []float32{1, 0}, []float32{0, 1})...))

	count, err := repos.Chunks.CountDocumentChunks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
