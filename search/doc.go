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


// Package search retrieves document chunks semantically related to a query.
//
// A Searcher embeds the query text with the configured Embedder and asks a
// ChunkStore for the nearest stored chunks. Scores are cosine similarities;
// threshold filtering and ranking for prompt assembly happen downstream.
package search
