// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidMessage indicates a Message failed validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidFeedback indicates a Feedback failed validation.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyFilename indicates the Filename field is empty.
	ErrEmptyFilename = errors.New("filename cannot be empty")

	// ErrInvalidRole indicates an invalid Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidRating indicates an invalid Rating value.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrInvalidStatus indicates an invalid DocumentStatus value.
	ErrInvalidStatus = errors.New("invalid document status")
)

// Turn and ingestion error taxonomy
var (
	// ErrTransientBackend indicates the chunk store or document store could not be reached.
	ErrTransientBackend = errors.New("backend unavailable")

	// ErrGeneration indicates the LLM call failed (rate limit, timeout, malformed response).
	ErrGeneration = errors.New("generation failed")

	// ErrEmptyContext indicates that no chunk cleared the similarity threshold.
	// It is never fatal: the turn continues with history only.
	ErrEmptyContext = errors.New("no chunks above similarity threshold")

	// ErrIngestionStage indicates that extraction, chunking, embedding or storing failed.
	ErrIngestionStage = errors.New("ingestion stage failed")
)

// IngestionStageError records which ingestion stage failed.
type IngestionStageError struct {
	Stage string
	Err   error
}

func (e *IngestionStageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap exposes both ErrIngestionStage and the underlying cause to errors.Is.
func (e *IngestionStageError) Unwrap() []error {
	return []error{ErrIngestionStage, e.Err}
}
