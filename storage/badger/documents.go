package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}

	return &DocumentRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *DocumentRepository) Close() error {
	return r.idSeq.Release()
}

// CreateDocument stores a new document with a sequence-generated ID.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if doc.Status == "" {
		doc.Status = core.DocumentPending
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	id, err := nextID(r.idSeq)
	if err != nil {
		return nil, err
	}
	doc.Id = id
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt

	err = r.backend.Update(ctx, func(tx *badger.Txn) error {
		return writeRecord(tx, makeDocumentKey(doc.Id), doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument applies fn to the stored document and writes the result.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, id core.ID, fn func(doc *core.Document) error) (*core.Document, error) {
	var result *core.Document
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := readRecord[core.Document](tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if err := fn(doc); err != nil {
			return err
		}
		if err := core.ValidateDocument(doc); err != nil {
			return err
		}
		doc.Id = id
		doc.UpdatedAt = time.Now().UTC()
		if err := writeRecord(tx, key, doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	return result, err
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord[core.Document](tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListDocuments returns every document, newest first.
// IDs come from a sequence, so reverse key order is creation order reversed.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix), true, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				doc, err := storage.Unmarshal[core.Document](val)
				if err != nil {
					return err
				}
				results = append(results, doc)
				return nil
			})
		})
	}, false)
	return results, err
}
