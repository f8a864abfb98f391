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


package storage

import "errors"

var (
	// ErrNotFound is returned when a document, conversation, message, task
	// or blob does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTransactionFailed wraps a failed read-write transaction.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed is returned by operations on a closed backend.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery covers bad pagination, empty vectors and zero limits.
	ErrInvalidQuery = errors.New("invalid query parameters")

	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData is returned when fewer bytes were read or written
	// than the record declared.
	ErrTruncatedData = errors.New("truncated data")

	// ErrDimensionMismatch means a vector's length differs from the chunk
	// store's configured embedding dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
