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


// Package storage provides the storage abstraction layer for docchat.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. Documents, ingestion tasks, conversations and messages live
// in a document store; embedded chunks live in a ChunkStore; uploaded files live
// in a BlobStore.
//
// # Constructor Return Type Pattern
//
// Public constructors return the interfaces defined here:
//
//	docs, err := badger.NewDocumentRepository(backend)  // returns storage.DocumentRepository
//	chunks, err := qdrant.NewChunkStore(ctx, cfg)        // returns storage.ChunkStore
//
// so callers never couple to a particular backend.
//
// # Implementations
//
//   - storage/badger: every repository plus an embedded ChunkStore
//   - storage/qdrant: ChunkStore backed by a Qdrant collection
//   - storage/localfs, storage/minio: BlobStore
//
// # Ordering
//
// ConversationRepository.AppendMessages assigns sequence numbers and timestamps
// inside its transaction. Messages of one conversation are therefore totally
// ordered by the order in which appends commit.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
