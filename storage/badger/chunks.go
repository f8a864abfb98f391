package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// ChunkStore implements storage.ChunkStore on BadgerDB with a brute-force
// cosine scan. It suits single-node deployments and tests.
type ChunkStore struct {
	backend   *Backend
	dimension int
}

var _ storage.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore creates a chunk store. A dimension of zero disables the length check.
func NewChunkStore(backend *Backend, dimension int) *ChunkStore {
	return &ChunkStore{
		backend:   backend,
		dimension: dimension,
	}
}

// Close releases resources. ChunkStore has no resources to release.
func (s *ChunkStore) Close() error {
	return nil
}

// Health reports whether the underlying database is open.
func (s *ChunkStore) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

// UpsertChunks stores chunks in their document's visible generation,
// overwriting any at the same ordinal.
func (s *ChunkStore) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) error {
	if err := s.checkDimensions(chunks); err != nil {
		return err
	}
	generations := make(map[core.ID]uint64)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range chunks {
			if _, ok := generations[c.DocumentId]; ok {
				continue
			}
			gen, err := readGeneration(tx, c.DocumentId)
			if err != nil {
				return err
			}
			generations[c.DocumentId] = gen
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	return s.writeChunks(ctx, chunks, func(c *core.Chunk) uint64 { return generations[c.DocumentId] })
}

// ReplaceDocumentChunks swaps a document's chunk set.
//
// The new set is written under a fresh generation in bounded batches, then a
// single small transaction makes it the visible one. Readers see either the
// old set or the new set, never a mix. Superseded generations are swept
// afterwards; a failed sweep leaves only invisible keys, which the next
// replacement or delete removes.
func (s *ChunkStore) ReplaceDocumentChunks(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	if err := s.checkDimensions(chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.DocumentId != documentID {
			return fmt.Errorf("%w: chunk %d belongs to document %d", storage.ErrInvalidQuery, c.Id, c.DocumentId)
		}
	}

	var current uint64
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		current, err = readGeneration(tx, documentID)
		return err
	}, false)
	if err != nil {
		return err
	}
	next := current + 1

	// Leftovers from an interrupted replacement may sit under next
	if err := s.deleteKeys(ctx, makeGenerationChunksPrefix(documentID, next), nil); err != nil {
		return err
	}
	if err := s.writeChunks(ctx, chunks, func(*core.Chunk) uint64 { return next }); err != nil {
		s.discardGeneration(documentID, next)
		return err
	}

	err = s.backend.Update(ctx, func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if err != nil {
			return err
		}
		if gen != current {
			return fmt.Errorf("%w: chunks of document %d replaced concurrently", storage.ErrTransactionFailed, documentID)
		}
		return writeGeneration(tx, documentID, next)
	})
	if err != nil {
		s.discardGeneration(documentID, next)
		return err
	}

	s.sweep(ctx, documentID, next)
	return nil
}

// Search scans stored chunks and returns the closest ones to vector.
// Ties are broken by document and then ordinal so results are deterministic.
func (s *ChunkStore) Search(ctx context.Context, vector []float32, limit int, filter *storage.ChunkFilter) ([]*core.Chunk, error) {
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store has %d", storage.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	prefix := []byte(chunkPrefix)
	var minScore float32 = -1
	if filter != nil {
		if filter.DocumentId != 0 {
			prefix = makeDocumentChunksPrefix(filter.DocumentId)
		}
		minScore = filter.MinScore
	}

	var results []*core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		visible := newGenerationCache(tx)
		return scanPrefix(tx, prefix, false, func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if ok, err := visible.contains(item.Key()); !ok || err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				chunk, err := storage.Unmarshal[core.Chunk](val)
				if err != nil {
					return err
				}
				// Skip chunks without embeddings
				if len(chunk.Vector) == 0 {
					return nil
				}
				score := core.CosineSimilarity(vector, chunk.Vector)
				if score < minScore {
					return nil
				}
				chunk.Score = score
				chunk.Vector = nil
				results = append(results, chunk)
				return nil
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, compareByScore)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListDocumentChunks returns a document's visible chunks in ordinal order.
func (s *ChunkStore) ListDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if err != nil {
			return err
		}
		return scanPrefix(tx, makeGenerationChunksPrefix(documentID, gen), false, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				chunk, err := storage.Unmarshal[core.Chunk](val)
				if err != nil {
					return err
				}
				results = append(results, chunk)
				return nil
			})
		})
	}, false)
	return results, err
}

// CountDocumentChunks counts a document's visible chunks without decoding them.
func (s *ChunkStore) CountDocumentChunks(ctx context.Context, documentID core.ID) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if err != nil {
			return err
		}
		return scanPrefix(tx, makeGenerationChunksPrefix(documentID, gen), false, func(item *badger.Item) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

// DeleteDocumentChunks removes every chunk of a document. The chunks stop
// being visible as soon as the generation moves to an empty one; the keys
// are then removed in batches.
func (s *ChunkStore) DeleteDocumentChunks(ctx context.Context, documentID core.ID) error {
	var empty uint64
	err := s.backend.Update(ctx, func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if err != nil {
			return err
		}
		empty = gen + 1
		return writeGeneration(tx, documentID, empty)
	})
	if err != nil {
		return err
	}
	if err := s.deleteKeys(ctx, makeDocumentChunksPrefix(documentID), nil); err != nil {
		return err
	}
	return s.backend.Update(ctx, func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if err != nil || gen != empty {
			return err
		}
		return tx.Delete(makeChunkGenerationKey(documentID))
	})
}

// writeChunks stores chunks through a WriteBatch, which commits whenever
// the pending transaction would grow too big.
func (s *ChunkStore) writeChunks(ctx context.Context, chunks []*core.Chunk, generation func(*core.Chunk) uint64) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	wb := s.backend.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := storage.Marshal(c)
		if err != nil {
			return err
		}
		if err := wb.Set(makeChunkKey(c.DocumentId, generation(c), c.Ordinal), value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// deleteKeys removes the keys under prefix in batches. Keys for which keep
// returns true are left alone.
func (s *ChunkStore) deleteKeys(ctx context.Context, prefix []byte, keep func(key []byte) bool) error {
	var keys [][]byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			if keep == nil || !keep(key) {
				keys = append(keys, key)
			}
		}
		return nil
	}, false)
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := s.backend.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// sweep removes every generation of a document's chunks except current.
func (s *ChunkStore) sweep(ctx context.Context, documentID core.ID, current uint64) {
	err := s.deleteKeys(ctx, makeDocumentChunksPrefix(documentID), func(key []byte) bool {
		_, gen, ok := parseChunkKey(key)
		return ok && gen == current
	})
	if err != nil {
		s.backend.logger.Warn("failed to sweep superseded chunks", "document", documentID, "err", err)
	}
}

// discardGeneration drops a generation that never became visible.
func (s *ChunkStore) discardGeneration(documentID core.ID, generation uint64) {
	if err := s.deleteKeys(context.Background(), makeGenerationChunksPrefix(documentID, generation), nil); err != nil {
		s.backend.logger.Warn("failed to discard unpublished chunks", "document", documentID, "generation", generation, "err", err)
	}
}

// readGeneration returns the visible chunk generation of a document.
// Documents that were never replaced use generation zero.
func readGeneration(tx *badger.Txn, documentID core.ID) (uint64, error) {
	item, err := tx.Get(makeChunkGenerationKey(documentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var gen uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return storage.ErrTruncatedData
		}
		gen = binary.BigEndian.Uint64(val)
		return nil
	})
	return gen, err
}

func writeGeneration(tx *badger.Txn, documentID core.ID, generation uint64) error {
	return tx.Set(makeChunkGenerationKey(documentID), appendUint64(nil, generation))
}

// generationCache answers whether a chunk key belongs to its document's
// visible generation, reading each document's generation once per transaction.
type generationCache struct {
	tx          *badger.Txn
	generations map[core.ID]uint64
}

func newGenerationCache(tx *badger.Txn) *generationCache {
	return &generationCache{tx: tx, generations: make(map[core.ID]uint64)}
}

func (g *generationCache) contains(key []byte) (bool, error) {
	documentID, gen, ok := parseChunkKey(key)
	if !ok {
		return false, nil
	}
	current, seen := g.generations[documentID]
	if !seen {
		var err error
		current, err = readGeneration(g.tx, documentID)
		if err != nil {
			return false, err
		}
		g.generations[documentID] = current
	}
	return gen == current, nil
}

func (s *ChunkStore) checkDimensions(chunks []*core.Chunk) error {
	if s.dimension == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Vector) != s.dimension {
			return fmt.Errorf("%w: chunk %d has %d, store has %d", storage.ErrDimensionMismatch, c.Id, len(c.Vector), s.dimension)
		}
	}
	return nil
}

// compareByScore orders chunks by descending score, then ascending document and ordinal.
func compareByScore(a, b *core.Chunk) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.DocumentId != b.DocumentId:
		if a.DocumentId < b.DocumentId {
			return -1
		}
		return 1
	}
	return a.Ordinal - b.Ordinal
}
