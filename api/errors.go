package api

import "errors"

var (
	ErrDocumentRepositoryRequired     = errors.New("document repository required")
	ErrConversationRepositoryRequired = errors.New("conversation repository required")
	ErrChunkStoreRequired             = errors.New("chunk store required")
	ErrIngestorRequired               = errors.New("ingestor required")
	ErrChatterRequired                = errors.New("chat orchestrator required")
)
