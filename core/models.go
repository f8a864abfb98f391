package core

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// String renders the ID in base 10, the form used in URLs and payloads.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a base 10 ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the identifier of the chunk at ordinal within a document.
// Re-ingesting a document yields the same IDs, so a replacement overwrites in place.
func ChunkID(documentID ID, ordinal int) ID {
	return IDFromContent(documentID.String() + ":" + strconv.Itoa(ordinal))
}

// ContentHash returns the hex BLAKE2b-256 digest of an uploaded file.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PlaceholderTitle is the title every conversation starts with.
const PlaceholderTitle = "New Conversation"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is an uploaded PDF and its processing outcome.
type Document struct {
	Id          ID             `json:"id"`
	Filename    string         `json:"filename"`
	StoragePath string         `json:"storage_path"`
	ContentHash string         `json:"content_hash"`
	Size        int64          `json:"size"`
	Status      DocumentStatus `json:"status"`
	ChunkCount  int            `json:"chunk_count"`
	TotalPages  int            `json:"total_pages"`
	Error       string         `json:"error,omitempty"` // Reason for the last failure
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is a retrievable segment of a document's text.
// Score is only populated by similarity search and never stored.
type Chunk struct {
	Id         ID        `json:"id"`
	DocumentId ID        `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	PageNumber int       `json:"page_number"`
	Filename   string    `json:"filename"`
	Vector     []float32 `json:"vector,omitempty"`
	Score      float32   `json:"-"`
}

// Ref returns the citation form of the chunk.
func (c *Chunk) Ref() ChunkRef {
	return ChunkRef{
		ChunkId:    c.Id,
		DocumentId: c.DocumentId,
		Filename:   c.Filename,
		PageNumber: c.PageNumber,
		Ordinal:    c.Ordinal,
		Score:      c.Score,
	}
}

// ChunkRef cites a chunk that contributed to an assistant message.
type ChunkRef struct {
	ChunkId    ID      `json:"chunk_id"`
	DocumentId ID      `json:"document_id"`
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Ordinal    int     `json:"ordinal"`
	Score      float32 `json:"score"`
}

// Conversation groups an ordered series of messages.
type Conversation struct {
	Id             ID        `json:"id"`
	Title          string    `json:"title"`
	TitleGenerated bool      `json:"title_generated"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry in a conversation.
// Sequence is the zero-based position within the conversation.
type Message struct {
	Id             ID         `json:"id"`
	ConversationId ID         `json:"conversation_id"`
	Sequence       uint64     `json:"sequence"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Sources        []ChunkRef `json:"sources,omitempty"` // Assistant messages only
}

// Rating is the user's verdict on a message.
type Rating string

const (
	RatingThumbsUp   Rating = "thumbs_up"
	RatingThumbsDown Rating = "thumbs_down"
)

// Feedback is stored beside a message, leaving the message itself untouched.
type Feedback struct {
	ConversationId ID        `json:"conversation_id"`
	Sequence       uint64    `json:"sequence"`
	Rating         Rating    `json:"rating"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskState is the lifecycle state of an ingestion task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task tracks the processing of one document.
type Task struct {
	Id         string    `json:"id"`
	DocumentId ID        `json:"document_id"`
	State      TaskState `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
