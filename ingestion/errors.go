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


package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrTaskRepositoryRequired is returned when a task repository is not provided.
	ErrTaskRepositoryRequired = errors.New("task repository required")

	// ErrChunkStoreRequired is returned when a chunk store is not provided.
	ErrChunkStoreRequired = errors.New("chunk store required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrQueueFull is returned when the task queue has no room for another document.
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrIngestionInProgress is returned when re-ingesting a document that is still pending or processing.
	ErrIngestionInProgress = errors.New("document ingestion already in progress")

	// ErrCoordinatorClosed is returned when submitting after Release.
	ErrCoordinatorClosed = errors.New("coordinator is closed")

	// ErrEmptyUpload is returned for an upload without content.
	ErrEmptyUpload = errors.New("upload is empty")
)
