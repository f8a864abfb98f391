package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/docchat/ai/mock"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

// addDocument stores a document with n chunks carrying placeholder vectors.
func addDocument(t *testing.T, repos *badger.Repositories, status core.DocumentStatus, n int) *core.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := repos.Documents.CreateDocument(ctx, &core.Document{Filename: "doc.pdf", Status: status, ChunkCount: n})
	require.NoError(t, err)

	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(doc.Id, i),
			DocumentId: doc.Id,
			Ordinal:    i,
			Text:       fmt.Sprintf("chunk %d of document %d", i, doc.Id),
			PageNumber: 1,
			Filename:   doc.Filename,
			Vector:     []float32{1, 0},
		}
	}
	require.NoError(t, repos.Chunks.ReplaceDocumentChunks(ctx, doc.Id, chunks))
	return doc
}

var fastRetry = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestReindexer_Run(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	first := addDocument(t, repos, core.DocumentCompleted, 4)
	second := addDocument(t, repos, core.DocumentCompleted, 3)
	failed := addDocument(t, repos, core.DocumentFailed, 2)

	var buf bytes.Buffer
	embedder := mock.NewMockEmbedder()
	config := &Config{BatchSize: 3, ReportInterval: 3, Retry: fastRetry}

	summary, err := NewReindexer(repos.Documents, repos.Chunks, embedder, config, &buf).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Documents)
	assert.Equal(t, 7, summary.Chunks)
	// 4 chunks -> 2 batches, 3 chunks -> 1 batch
	assert.Equal(t, 3, embedder.CallCount())

	for _, doc := range []*core.Document{first, second} {
		chunks, err := repos.Chunks.ListDocumentChunks(ctx, doc.Id)
		require.NoError(t, err)
		for _, c := range chunks {
			expected := mock.DeterministicVector(c.Text, mock.DefaultDimension)
			assert.InDeltaSlice(t, expected, c.Vector, 1e-5, "chunk %d should be re-embedded", c.Ordinal)
		}
	}

	untouched, err := repos.Chunks.ListDocumentChunks(ctx, failed.Id)
	require.NoError(t, err)
	for _, c := range untouched {
		assert.Equal(t, []float32{1, 0}, c.Vector, "failed documents are skipped")
	}

	output := buf.String()
	assert.Contains(t, output, "Starting reindex of 7 chunks in 2 documents")
	assert.Contains(t, output, "7/7")
	assert.Contains(t, output, "Reindex complete")
}

func TestReindexer_Empty(t *testing.T) {
	repos := setupTestDB(t)

	var buf bytes.Buffer
	summary, err := NewReindexer(repos.Documents, repos.Chunks, mock.NewMockEmbedder(), nil, &buf).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Chunks)
	assert.Contains(t, buf.String(), "No chunks found")
}

func TestReindexer_EmbeddingFailure(t *testing.T) {
	repos := setupTestDB(t)
	addDocument(t, repos, core.DocumentCompleted, 2)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model not loaded")
	}
	config := &Config{BatchSize: 10, ReportInterval: 10, Retry: fastRetry}

	_, err := NewReindexer(repos.Documents, repos.Chunks, embedder, config, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Equal(t, fastRetry.MaxAttempts, embedder.CallCount())
}

func TestChunkIterator_ForEach(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	addDocument(t, repos, core.DocumentCompleted, 5)
	addDocument(t, repos, core.DocumentCompleted, 2)
	addDocument(t, repos, core.DocumentPending, 3)

	it := NewChunkIterator(repos.Documents, repos.Chunks, 2)

	var sizes []int
	err := it.ForEach(ctx, func(doc *core.Document, chunks []*core.Chunk) error {
		for _, c := range chunks {
			assert.Equal(t, doc.Id, c.DocumentId, "batches never mix documents")
		}
		sizes = append(sizes, len(chunks))
		return nil
	})
	require.NoError(t, err)
	// Newest document first: 2 chunks, then 5 chunks as 2+2+1
	assert.Equal(t, []int{2, 2, 2, 1}, sizes)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	repos := setupTestDB(t)
	addDocument(t, repos, core.DocumentCompleted, 6)

	it := NewChunkIterator(repos.Documents, repos.Chunks, 2)
	boom := errors.New("boom")
	calls := 0
	err := it.ForEach(context.Background(), func(*core.Document, []*core.Chunk) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChunkIterator_DefaultBatchSize(t *testing.T) {
	repos := setupTestDB(t)
	it := NewChunkIterator(repos.Documents, repos.Chunks, 0)
	assert.Equal(t, DefaultBatchSize, it.batchSize)
}
