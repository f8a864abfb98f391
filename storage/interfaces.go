package storage

import (
	"context"
	"io"

	"github.com/poiesic/docchat/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	// It does not close a shared backend.
	Close() error
}

// DocumentRepository provides operations for managing uploaded documents.
type DocumentRepository interface {
	Repository

	// CreateDocument stores a new document.
	// Generates the ID from a sequence and sets CreatedAt/UpdatedAt.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// UpdateDocument applies fn to the stored document inside a single transaction.
	// If fn returns an error nothing is written and the error is returned unchanged.
	// UpdatedAt is set automatically. Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, id core.ID, fn func(doc *core.Document) error) (*core.Document, error)

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// ListDocuments returns every document, newest first.
	ListDocuments(ctx context.Context) ([]*core.Document, error)
}

// TaskRepository provides operations for managing ingestion tasks.
type TaskRepository interface {
	Repository

	// SaveTask creates or overwrites a task.
	SaveTask(ctx context.Context, task *core.Task) error

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*core.Task, error)

	// ListTasks returns tasks in any of the given states, oldest first.
	// With no states, every task is returned.
	ListTasks(ctx context.Context, states ...core.TaskState) ([]*core.Task, error)
}

// ConversationRepository provides operations for conversations, their messages and feedback.
type ConversationRepository interface {
	Repository

	// CreateConversation creates an empty conversation with the given title.
	CreateConversation(ctx context.Context, title string) (*core.Conversation, error)

	// GetConversation retrieves a conversation by ID.
	// Returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id core.ID) (*core.Conversation, error)

	// ListConversations returns conversations ordered by UpdatedAt descending.
	// A limit of zero or less means no limit.
	ListConversations(ctx context.Context, skip, limit int) ([]*core.Conversation, error)

	// DeleteConversation removes a conversation along with its messages and feedback.
	// Returns ErrNotFound if the conversation doesn't exist.
	DeleteConversation(ctx context.Context, id core.ID) error

	// SetTitleIfUnset replaces the placeholder title.
	// Returns false without writing if a title was already generated.
	SetTitleIfUnset(ctx context.Context, id core.ID, title string) (bool, error)

	// AppendMessages appends messages to a conversation in one transaction.
	// IDs, sequence numbers and timestamps are assigned at commit time, so
	// append order is the order in which calls complete.
	// Returns ErrNotFound if the conversation doesn't exist.
	AppendMessages(ctx context.Context, conversationID core.ID, msgs ...*core.Message) ([]*core.Message, error)

	// GetMessages returns every message of a conversation in sequence order.
	GetMessages(ctx context.Context, conversationID core.ID) ([]*core.Message, error)

	// GetRecentMessages returns the last limit messages in chronological order.
	GetRecentMessages(ctx context.Context, conversationID core.ID, limit int) ([]*core.Message, error)

	// SetFeedback stores feedback for the message at fb.Sequence, replacing any earlier rating.
	// Returns ErrNotFound if the message doesn't exist.
	SetFeedback(ctx context.Context, fb *core.Feedback) error

	// GetFeedback returns all feedback recorded for a conversation ordered by sequence.
	GetFeedback(ctx context.Context, conversationID core.ID) ([]*core.Feedback, error)
}

// ChunkFilter narrows a similarity search.
type ChunkFilter struct {
	// DocumentId restricts results to one document when non-zero.
	DocumentId core.ID
	// MinScore drops results scoring below it.
	MinScore float32
}

// ChunkStore is the vector store holding embedded document chunks.
type ChunkStore interface {
	Repository

	// UpsertChunks stores chunks, overwriting any with the same ID.
	UpsertChunks(ctx context.Context, chunks ...*core.Chunk) error

	// ReplaceDocumentChunks makes chunks the complete chunk set of a document.
	// Chunks from an earlier ingestion that are not in the new set are removed.
	ReplaceDocumentChunks(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error

	// Search returns up to limit chunks most similar to vector, highest score first.
	// Returned chunks have Score set and Vector cleared.
	Search(ctx context.Context, vector []float32, limit int, filter *ChunkFilter) ([]*core.Chunk, error)

	// ListDocumentChunks returns a document's chunks ordered by ordinal, vectors included.
	ListDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error)

	// CountDocumentChunks returns the number of stored chunks for a document.
	CountDocumentChunks(ctx context.Context, documentID core.ID) (int, error)

	// DeleteDocumentChunks removes every chunk of a document.
	DeleteDocumentChunks(ctx context.Context, documentID core.ID) error

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error
}

// Blob is an opened stored file.
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// BlobStore holds uploaded files.
type BlobStore interface {
	// Put stores the contents of r under a name derived from name and
	// returns the path to pass to Open.
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)

	// Open returns the blob stored at path.
	// Returns ErrNotFound if nothing is stored there.
	Open(ctx context.Context, path string) (Blob, error)

	// Delete removes the blob stored at path.
	Delete(ctx context.Context, path string) error
}
