package ai

import "errors"

var (
	// ErrEmptyResponse is returned when a chat model answers with no usable text.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrEmbeddingCount is returned when a batch embedding call returns the wrong number of vectors.
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)
