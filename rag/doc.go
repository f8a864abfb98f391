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


// Package rag answers chat turns from retrieved document context.
//
// The Assembler combines retrieved chunks with recent conversation history
// into a bounded Context. The Orchestrator runs one turn through the states
// Received, Retrieving, Assembling, Generating, Persisting and Done, with
// Failed reachable from any of them:
//
//   - Retrieval is retried with exponential backoff. When retries run out the
//     turn either continues without chunks (PolicyDegrade) or fails
//     (PolicyFail).
//   - Generation failures always fail the turn and nothing is persisted.
//   - Persistence failures after a successful generation are logged and
//     reported on the TurnResult, but the answer is still returned.
//
// Messages of one conversation are persisted in the order turns finish
// generating, serialized by a per-conversation Sequencer. Turns on different
// conversations never wait on each other.
package rag
