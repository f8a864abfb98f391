package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records requests and returns canned responses.
type fakeAPI struct {
	collections []string
	dimension   int

	created []*qdrant.CreateCollection
	dropped []string
	upserts []*qdrant.UpsertPoints
	deletes []*qdrant.DeletePoints
	queries []*qdrant.QueryPoints

	queryResult  []*qdrant.ScoredPoint
	scrollResult []*qdrant.RetrievedPoint
	count        uint64
	err          error
	// deleteErrs are returned by successive Delete calls before falling back to err.
	deleteErrs []error
}

func (f *fakeAPI) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, f.err
}

func (f *fakeAPI) ListCollections(ctx context.Context) ([]string, error) {
	return f.collections, f.err
}

func (f *fakeAPI) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	return f.err
}

func (f *fakeAPI) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(f.dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			},
		},
	}, f.err
}

func (f *fakeAPI) DeleteCollection(ctx context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	return f.err
}

func (f *fakeAPI) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeAPI) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.queryResult, f.err
}

func (f *fakeAPI) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		return &qdrant.UpdateResult{}, err
	}
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeAPI) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	return f.count, f.err
}

func (f *fakeAPI) Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	return f.scrollResult, f.err
}

func (f *fakeAPI) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dimension = 3
	return cfg
}

func TestEnsureCollection_Creates(t *testing.T) {
	api := &fakeAPI{}
	_, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)

	require.Len(t, api.created, 1)
	assert.Equal(t, "documents", api.created[0].CollectionName)
	assert.Equal(t, 3, collectionDimension(&qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{Params: &qdrant.CollectionParams{VectorsConfig: api.created[0].VectorsConfig}},
	}))
}

func TestEnsureCollection_Existing(t *testing.T) {
	api := &fakeAPI{collections: []string{"documents"}, dimension: 3}
	_, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)
	assert.Empty(t, api.created)
}

func TestEnsureCollection_DimensionMismatch(t *testing.T) {
	api := &fakeAPI{collections: []string{"documents"}, dimension: 1536}
	_, err := newChunkStore(context.Background(), api, testConfig())
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	cfg := testConfig()
	cfg.RecreateOnMismatch = true
	api = &fakeAPI{collections: []string{"documents"}, dimension: 1536}
	_, err = newChunkStore(context.Background(), api, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"documents"}, api.dropped)
	assert.Len(t, api.created, 1)
}

func TestEnsureCollection_Unreachable(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	_, err := newChunkStore(context.Background(), api, testConfig())
	assert.ErrorIs(t, err, core.ErrTransientBackend)
}

func TestReplaceDocumentChunks(t *testing.T) {
	api := &fakeAPI{}
	store, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)

	chunks := []*core.Chunk{
		{Id: core.ChunkID(7, 0), DocumentId: 7, Ordinal: 0, Text: "a", Vector: []float32{1, 0, 0}},
		{Id: core.ChunkID(7, 1), DocumentId: 7, Ordinal: 1, Text: "b", Vector: []float32{0, 1, 0}},
	}
	require.NoError(t, store.ReplaceDocumentChunks(context.Background(), 7, chunks))

	require.Len(t, api.upserts, 1)
	assert.Len(t, api.upserts[0].Points, 2)
	require.Len(t, api.deletes, 1)

	sel, ok := api.deletes[0].Points.PointsSelectorOneOf.(*qdrant.PointsSelector_Filter)
	require.True(t, ok)
	require.Len(t, sel.Filter.Must, 2)
	rng := sel.Filter.Must[1].GetField().GetRange()
	require.NotNil(t, rng)
	assert.Equal(t, 2.0, rng.GetGte())
}

func TestReplaceDocumentChunks_RetriesStaleDelete(t *testing.T) {
	api := &fakeAPI{}
	store, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)
	store.cleanup = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	chunks := []*core.Chunk{
		{Id: core.ChunkID(7, 0), DocumentId: 7, Ordinal: 0, Text: "a", Vector: []float32{1, 0, 0}},
	}

	unavailable := errors.New("unavailable")
	api.deleteErrs = []error{unavailable, unavailable}
	require.NoError(t, store.ReplaceDocumentChunks(context.Background(), 7, chunks))
	assert.Len(t, api.upserts, 1)
	assert.Len(t, api.deletes, 3)

	api.deletes = nil
	api.deleteErrs = []error{unavailable, unavailable, unavailable}
	err = store.ReplaceDocumentChunks(context.Background(), 7, chunks)
	assert.ErrorIs(t, err, core.ErrTransientBackend)
	assert.Len(t, api.deletes, 3)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	api := &fakeAPI{}
	store, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)

	err = store.UpsertChunks(context.Background(), &core.Chunk{Id: 1, DocumentId: 1, Vector: []float32{1}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.Empty(t, api.upserts)
}

func TestSearch_ConvertsPoints(t *testing.T) {
	api := &fakeAPI{
		queryResult: []*qdrant.ScoredPoint{
			{
				Id:    qdrant.NewIDNum(42),
				Score: 0.91,
				Payload: qdrant.NewValueMap(map[string]any{
					fieldDocumentID: int64(3),
					fieldOrdinal:    int64(5),
					fieldPage:       int64(2),
					fieldFilename:   "manual.pdf",
					fieldText:       "Reset the breaker.",
				}),
			},
		},
	}
	store, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 5, &storage.ChunkFilter{DocumentId: 3, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, core.ID(42), got.Id)
	assert.Equal(t, core.ID(3), got.DocumentId)
	assert.Equal(t, 5, got.Ordinal)
	assert.Equal(t, 2, got.PageNumber)
	assert.Equal(t, "manual.pdf", got.Filename)
	assert.Equal(t, "Reset the breaker.", got.Text)
	assert.InDelta(t, 0.91, got.Score, 1e-6)

	require.Len(t, api.queries, 1)
	assert.Equal(t, uint64(5), api.queries[0].GetLimit())
	assert.InDelta(t, 0.5, api.queries[0].GetScoreThreshold(), 1e-6)
	assert.NotNil(t, api.queries[0].Filter)
}

func TestSearch_Unreachable(t *testing.T) {
	api := &fakeAPI{}
	store, err := newChunkStore(context.Background(), api, testConfig())
	require.NoError(t, err)

	api.err = errors.New("unavailable")
	_, err = store.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, core.ErrTransientBackend)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Host = ""
	cfg.Dimension = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
	assert.Contains(t, err.Error(), "dimension")
}
