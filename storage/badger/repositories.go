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


package badger

import (
	"errors"

	"github.com/poiesic/docchat/storage"
)

// Repositories bundles every BadgerDB-backed repository sharing one Backend.
type Repositories struct {
	Backend       *Backend
	Documents     storage.DocumentRepository
	Tasks         storage.TaskRepository
	Conversations storage.ConversationRepository
	Chunks        storage.ChunkStore
}

// OpenRepositories opens the database at path and creates every repository on it.
// An empty path opens an in-memory database.
// chunkDimension is passed to the embedded chunk store; zero disables the check.
func OpenRepositories(path string, chunkDimension int) (*Repositories, error) {
	backend, err := OpenBackend(path, path == "")
	if err != nil {
		return nil, err
	}

	docs, err := NewDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	convs, err := NewConversationRepository(backend)
	if err != nil {
		docs.Close()
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend:       backend,
		Documents:     docs,
		Tasks:         NewTaskRepository(backend),
		Conversations: convs,
		Chunks:        NewChunkStore(backend, chunkDimension),
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must call Close when done.
func NewMemoryRepositories() (*Repositories, error) {
	return OpenRepositories("", 0)
}

// Close releases every repository and then the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Chunks.Close(),
		r.Conversations.Close(),
		r.Tasks.Close(),
		r.Documents.Close(),
		r.Backend.Close(),
	)
}
