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


// Package ingestion turns uploaded PDFs into searchable chunks in the background.
//
// The Coordinator tracks one task per upload through the states queued,
// running, succeeded and failed. Submitting stores the file, records a
// pending Document and a queued Task, and returns immediately. A fixed-size
// worker pool then runs each document through four stages:
//   - extract: read per-page text from the stored PDF
//   - chunk: split each page into overlapping segments
//   - embed: compute a normalized vector per segment
//   - store: replace the document's chunk set in the chunk store
//
// Any stage failure marks the task and the document failed with a reason.
// Failed work is never retried automatically; callers re-submit or re-ingest.
package ingestion
