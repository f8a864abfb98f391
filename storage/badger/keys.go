package badger

import (
	"encoding/binary"

	"github.com/poiesic/docchat/core"
)

// Key prefixes for different data types
const (
	documentPrefix        = "doc:"
	documentIDSeq         = "docseq"
	taskPrefix            = "task:"
	conversationPrefix    = "conv:"
	conversationUpdPrefix = "convupd:"
	conversationIDSeq     = "convseq"
	messagePrefix         = "msg:"
	messageIDSeq          = "msgseq"
	feedbackPrefix        = "fb:"
	chunkPrefix           = "chunk:"
	chunkGenerationPrefix = "chunkgen:"
)

// appendUint64 writes v in BigEndian order so lexicographic sort works correctly.
func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

// makeKey builds prefix followed by each part as 8 BigEndian bytes.
func makeKey(prefix string, parts ...uint64) []byte {
	buf := make([]byte, 0, len(prefix)+8*len(parts))
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = appendUint64(buf, p)
	}
	return buf
}

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id core.ID) []byte {
	return makeKey(documentPrefix, uint64(id))
}

// makeTaskKey generates a key for an ingestion task.
func makeTaskKey(id string) []byte {
	return []byte(taskPrefix + id)
}

// makeConversationKey generates a key for a conversation by ID.
func makeConversationKey(id core.ID) []byte {
	return makeKey(conversationPrefix, uint64(id))
}

// makeConversationUpdatedKey generates a composite key for the recency index.
// Format: prefix:updatedAt:id
func makeConversationUpdatedKey(c *core.Conversation) []byte {
	return makeKey(conversationUpdPrefix, uint64(c.UpdatedAt.UnixMicro()), uint64(c.Id))
}

// makeMessageKey generates a composite key for a message.
// Format: prefix:conversationID:sequence
func makeMessageKey(conversationID core.ID, seq uint64) []byte {
	return makeKey(messagePrefix, uint64(conversationID), seq)
}

// makeConversationMessagesPrefix generates the key prefix shared by a conversation's messages.
func makeConversationMessagesPrefix(conversationID core.ID) []byte {
	return makeKey(messagePrefix, uint64(conversationID))
}

// makeFeedbackKey generates a composite key for message feedback.
// Format: prefix:conversationID:sequence
func makeFeedbackKey(conversationID core.ID, seq uint64) []byte {
	return makeKey(feedbackPrefix, uint64(conversationID), seq)
}

// makeConversationFeedbackPrefix generates the key prefix shared by a conversation's feedback.
func makeConversationFeedbackPrefix(conversationID core.ID) []byte {
	return makeKey(feedbackPrefix, uint64(conversationID))
}

// makeChunkKey generates a composite key for a chunk.
// Format: prefix:documentID:generation:ordinal
func makeChunkKey(documentID core.ID, generation uint64, ordinal int) []byte {
	return makeKey(chunkPrefix, uint64(documentID), generation, uint64(ordinal))
}

// makeDocumentChunksPrefix generates the key prefix shared by every
// generation of a document's chunks.
func makeDocumentChunksPrefix(documentID core.ID) []byte {
	return makeKey(chunkPrefix, uint64(documentID))
}

// makeGenerationChunksPrefix generates the key prefix of one generation of a document's chunks.
func makeGenerationChunksPrefix(documentID core.ID, generation uint64) []byte {
	return makeKey(chunkPrefix, uint64(documentID), generation)
}

// makeChunkGenerationKey generates the key holding a document's visible chunk generation.
func makeChunkGenerationKey(documentID core.ID) []byte {
	return makeKey(chunkGenerationPrefix, uint64(documentID))
}

// parseChunkKey extracts the document ID and generation from a chunk key.
func parseChunkKey(key []byte) (core.ID, uint64, bool) {
	rest := key[len(chunkPrefix):]
	if len(rest) < 16 {
		return 0, 0, false
	}
	return core.ID(binary.BigEndian.Uint64(rest[:8])), binary.BigEndian.Uint64(rest[8:16]), true
}
