package rag

import "errors"

var (
	// ErrConversationRepositoryRequired is returned when a conversation repository is not provided.
	ErrConversationRepositoryRequired = errors.New("conversation repository required")

	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrChatModelRequired is returned when a chat model is not provided.
	ErrChatModelRequired = errors.New("chat model required")

	// ErrEmptyQuery is returned when a turn has no user text.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidPolicy is returned for an unknown retrieval failure policy.
	ErrInvalidPolicy = errors.New("invalid retrieval failure policy")

	// ErrInvalidSettings is returned when assembler or generation settings are out of range.
	ErrInvalidSettings = errors.New("invalid settings")
)
