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


// Package ai provides abstractions for the AI services docchat depends on.
//
// Two capabilities are needed: turning text into vectors for similarity
// search, and turning a prompt plus conversation into an answer.
//
//   - Embedder: Generates vector embeddings from text
//   - ChatModel: Generates a reply from a system prompt and messages
//   - AIProvider: Aggregates both for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, openai.NewChatModel)
// return INTERFACE types. Mock constructors return CONCRETE types so tests can
// inject behavior and inspect calls:
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//	chat := mock.NewMockChatModel()              // returns *mock.MockChatModel
//	chat.GenerateFunc = func(...) (string, error) { ... }
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "What does section 3 say?")
//	reply, err := provider.ChatModel().Generate(ctx, ai.GenerateRequest{
//	    SystemPrompt: "You are a helpful assistant.",
//	    Messages:     []ai.ChatMessage{{Role: ai.ChatRoleUser, Content: "Hello"}},
//	    Temperature:  0.7,
//	    MaxTokens:    256,
//	})
package ai
