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


// Package api serves documents, conversations and chat turns over HTTP.
//
// Routes follow the /api/v1 layout:
//
//	POST   {prefix}/documents/upload                          upload one PDF (multipart "file")
//	POST   {prefix}/documents/upload/batch                    upload several PDFs (multipart "files")
//	GET    {prefix}/documents/task/{task_id}                  ingestion task status
//	GET    {prefix}/documents                                 list documents
//	GET    {prefix}/documents/{id}                            one document
//	POST   {prefix}/documents/{id}/reingest                   process a document again
//	PUT    {prefix}/chat/conversation                         start a conversation
//	GET    {prefix}/chat/conversations?skip=&limit=           list conversations
//	GET    {prefix}/chat/conversations/{id}                   messages and feedback
//	DELETE {prefix}/chat/conversations/{id}                   delete a conversation
//	POST   {prefix}/chat/{id}                                 answer a message
//	POST   {prefix}/chat/{id}/messages/{index}/feedback       rate a message
//	GET    {prefix}/chat/ws/{id}                              chat turns over a websocket
//
// Errors are returned as {"detail": "..."}.
package api
