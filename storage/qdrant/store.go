package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/retry"
	"github.com/poiesic/docchat/storage"
	"github.com/qdrant/go-client/qdrant"
)

// pointsAPI is the slice of *qdrant.Client the store uses.
type pointsAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Close() error
}

var _ pointsAPI = (*qdrant.Client)(nil)

// ChunkStore implements storage.ChunkStore on a Qdrant collection.
type ChunkStore struct {
	api    pointsAPI
	cfg    Config
	logger *slog.Logger
	// cleanup governs the stale tail delete of ReplaceDocumentChunks.
	cleanup retry.Policy
}

var _ storage.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore connects to Qdrant and makes sure the collection exists
// with the configured dimension.
func NewChunkStore(ctx context.Context, cfg Config) (storage.ChunkStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize qdrant client: %w", err)
	}

	store, err := newChunkStore(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func newChunkStore(ctx context.Context, api pointsAPI, cfg Config) (*ChunkStore, error) {
	s := &ChunkStore{
		api:     api,
		cfg:     cfg,
		logger:  slog.Default().With("component", "qdrant", "collection", cfg.Collection),
		cleanup: retry.DefaultPolicy(),
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChunkStore) ensureCollection(ctx context.Context) error {
	collections, err := s.api.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list collections: %w", core.ErrTransientBackend, err)
	}

	if slices.Contains(collections, s.cfg.Collection) {
		info, err := s.api.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("failed to get collection %q: %w", s.cfg.Collection, err)
		}
		size := collectionDimension(info)
		if size == s.cfg.Dimension {
			return nil
		}
		if !s.cfg.RecreateOnMismatch {
			return fmt.Errorf("%w: collection %q has %d, configured %d",
				storage.ErrDimensionMismatch, s.cfg.Collection, size, s.cfg.Dimension)
		}
		s.logger.Warn("recreating collection with new dimension", "old", size, "new", s.cfg.Dimension)
		if err := s.api.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("failed to delete collection %q: %w", s.cfg.Collection, err)
		}
	}

	s.logger.Info("creating collection", "dimension", s.cfg.Dimension)
	err = s.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Close closes the client connection.
func (s *ChunkStore) Close() error {
	return s.api.Close()
}

// Health calls the Qdrant health endpoint.
func (s *ChunkStore) Health(ctx context.Context) error {
	if _, err := s.api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransientBackend, err)
	}
	return nil
}

// UpsertChunks stores chunks as points.
func (s *ChunkStore) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != s.cfg.Dimension {
			return fmt.Errorf("%w: chunk %d has %d, collection has %d",
				storage.ErrDimensionMismatch, c.Id, len(c.Vector), s.cfg.Dimension)
		}
		points = append(points, toPoint(c))
	}

	wait := true
	_, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert failed: %w", core.ErrTransientBackend, err)
	}
	return nil
}

// ReplaceDocumentChunks upserts the new set and then deletes points past its end.
// Chunk IDs are derived from document and ordinal, so the upsert overwrites the
// shared prefix in place and a reader never sees the document without chunks.
//
// Between the upsert and the delete, the stale tail of a longer previous set
// stays searchable next to the new chunks. The delete is retried under the
// cleanup policy; when it still fails the error is returned and the tail
// remains until the document is re-ingested or deleted.
func (s *ChunkStore) ReplaceDocumentChunks(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	for _, c := range chunks {
		if c.DocumentId != documentID {
			return fmt.Errorf("%w: chunk %d belongs to document %d", storage.ErrInvalidQuery, c.Id, c.DocumentId)
		}
	}
	if err := s.UpsertChunks(ctx, chunks...); err != nil {
		return err
	}
	stale := staleChunksFilter(documentID, len(chunks))
	err := retry.Do(ctx, s.cleanup, func(ctx context.Context) error {
		return s.deleteByFilter(ctx, stale)
	})
	if err != nil {
		s.logger.Warn("stale chunks left after replacement", "document", documentID, "kept", len(chunks), "err", err)
	}
	return err
}

// Search queries the collection for the nearest chunks.
func (s *ChunkStore) Search(ctx context.Context, vector []float32, limit int, filter *storage.ChunkFilter) ([]*core.Chunk, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d",
			storage.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	n := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		if filter.DocumentId != 0 {
			req.Filter = documentFilter(filter.DocumentId)
		}
		if filter.MinScore > 0 {
			threshold := filter.MinScore
			req.ScoreThreshold = &threshold
		}
	}

	resp, err := s.api.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", core.ErrTransientBackend, err)
	}

	results := make([]*core.Chunk, 0, len(resp))
	for _, p := range resp {
		chunk, err := fromScoredPoint(p)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}
	return results, nil
}

// ListDocumentChunks scrolls through a document's points, vectors included.
func (s *ChunkStore) ListDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	count, err := s.CountDocumentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	limit := uint32(count)
	points, err := s.api.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter:         documentFilter(documentID),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll failed: %w", core.ErrTransientBackend, err)
	}

	chunks := make([]*core.Chunk, 0, len(points))
	for _, p := range points {
		chunk, err := fromRetrievedPoint(p)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int { return a.Ordinal - b.Ordinal })
	return chunks, nil
}

// CountDocumentChunks counts a document's points exactly.
func (s *ChunkStore) CountDocumentChunks(ctx context.Context, documentID core.ID) (int, error) {
	exact := true
	n, err := s.api.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         documentFilter(documentID),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count failed: %w", core.ErrTransientBackend, err)
	}
	return int(n), nil
}

// DeleteDocumentChunks removes a document's points.
func (s *ChunkStore) DeleteDocumentChunks(ctx context.Context, documentID core.ID) error {
	return s.deleteByFilter(ctx, documentFilter(documentID))
}

func (s *ChunkStore) deleteByFilter(ctx context.Context, f *qdrant.Filter) error {
	wait := true
	_, err := s.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: f},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("%w: delete failed: %w", core.ErrTransientBackend, err)
	}
	return nil
}
