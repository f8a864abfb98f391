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


package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/ingestion"
	"github.com/poiesic/docchat/rag"
	"github.com/poiesic/docchat/storage"
)

// Ingestor accepts documents for processing.
type Ingestor interface {
	Submit(ctx context.Context, up ingestion.Upload) (*core.Task, *core.Document, error)
	SubmitBatch(ctx context.Context, uploads []ingestion.Upload) []ingestion.Submission
	Reingest(ctx context.Context, documentID core.ID) (*core.Task, error)
	Task(ctx context.Context, id string) (*ingestion.Status, error)
}

// Chatter answers one chat turn.
type Chatter interface {
	Turn(ctx context.Context, conversationID core.ID, query string) (*rag.TurnResult, error)
}

// RequestObserver records served requests. route is the pattern that matched.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, took time.Duration)
}

var (
	_ Ingestor = (*ingestion.Coordinator)(nil)
	_ Chatter  = (*rag.Orchestrator)(nil)
)

// Server is the HTTP boundary of docchat.
type Server struct {
	documents     storage.DocumentRepository
	conversations storage.ConversationRepository
	chunks        storage.ChunkStore
	ingestor      Ingestor
	chat          Chatter

	observer       RequestObserver
	logger         *slog.Logger
	prefix         string
	appName        string
	version        string
	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "api")
		return nil
	}
}

// WithPrefix mounts the document and chat routes under prefix, e.g. "/api/v1".
func WithPrefix(prefix string) Option {
	return func(s *Server) error {
		s.prefix = prefix
		return nil
	}
}

// WithAppInfo sets the name and version reported by the root route.
func WithAppInfo(name, version string) Option {
	return func(s *Server) error {
		s.appName = name
		s.version = version
		return nil
	}
}

// WithMaxUploadBytes caps the size of an upload request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("max upload bytes must be positive, got %d", n)
		}
		s.maxUploadBytes = n
		return nil
	}
}

// WithRequestObserver reports every request to observer.
func WithRequestObserver(observer RequestObserver) Option {
	return func(s *Server) error {
		s.observer = observer
		return nil
	}
}

// NewServer creates the HTTP server.
func NewServer(
	documents storage.DocumentRepository,
	conversations storage.ConversationRepository,
	chunks storage.ChunkStore,
	ingestor Ingestor,
	chat Chatter,
	opts ...Option,
) (*Server, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if conversations == nil {
		return nil, ErrConversationRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkStoreRequired
	}
	if ingestor == nil {
		return nil, ErrIngestorRequired
	}
	if chat == nil {
		return nil, ErrChatterRequired
	}

	s := &Server{
		documents:      documents,
		conversations:  conversations,
		chunks:         chunks,
		ingestor:       ingestor,
		chat:           chat,
		logger:         slog.Default().With("component", "api"),
		appName:        "docchat",
		version:        "dev",
		maxUploadBytes: 50 << 20,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /{$}", s.handleRoot)
	s.route(mux, "GET /health", s.handleHealth)

	docs := s.prefix + "/documents"
	s.route(mux, "POST "+docs+"/upload", s.handleUpload)
	s.route(mux, "POST "+docs+"/upload/batch", s.handleUploadBatch)
	s.route(mux, "GET "+docs+"/task/{task_id}", s.handleTask)
	s.route(mux, "GET "+docs, s.handleListDocuments)
	s.route(mux, "GET "+docs+"/{id}", s.handleGetDocument)
	s.route(mux, "POST "+docs+"/{id}/reingest", s.handleReingest)

	chat := s.prefix + "/chat"
	s.route(mux, "PUT "+chat+"/conversation", s.handleCreateConversation)
	s.route(mux, "GET "+chat+"/conversations", s.handleListConversations)
	s.route(mux, "GET "+chat+"/conversations/{id}", s.handleGetConversation)
	s.route(mux, "DELETE "+chat+"/conversations/{id}", s.handleDeleteConversation)
	s.route(mux, "POST "+chat+"/{id}", s.handleChat)
	s.route(mux, "POST "+chat+"/{id}/messages/{index}/feedback", s.handleFeedback)
	s.route(mux, "GET "+chat+"/ws/{id}", s.handleChatSocket)

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.observe(pattern, h))
}

// observe logs the request, reports it to the observer and converts panics into 500s.
func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", "route", route, "panic", p)
				if !rec.wrote {
					writeError(rec, http.StatusInternalServerError, "Internal server error")
				}
			}
			took := time.Since(start)
			if s.observer != nil {
				s.observer.ObserveRequest(r.Method, route, rec.status, took)
			}
			s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", took)
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.status = http.StatusSwitchingProtocols
		r.wrote = true
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    s.appName,
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy", "chunk_store": "ok", "store": "ok"}
	code := http.StatusOK

	if err := s.chunks.Health(r.Context()); err != nil {
		status["chunk_store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if _, err := s.conversations.ListConversations(r.Context(), 0, 1); err != nil {
		status["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if code != http.StatusOK {
		status["status"] = "unhealthy"
	}
	writeJSON(w, code, status)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrIngestionInProgress):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrQueueFull),
		errors.Is(err, ingestion.ErrCoordinatorClosed),
		errors.Is(err, core.ErrTransientBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingestion.ErrEmptyUpload),
		errors.Is(err, rag.ErrEmptyQuery),
		errors.Is(err, core.ErrInvalidFeedback),
		errors.Is(err, core.ErrInvalidMessage),
		errors.Is(err, core.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal details of 5xx errors
// are logged rather than returned, except for the unavailable and gateway classes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, detail string) {
	status, detail := s.explain(r, err, detail)
	writeError(w, status, detail)
}

// explain maps err to a status and the detail shown to the client, logging
// server-side failures. detail is kept only for internal errors.
func (s *Server) explain(r *http.Request, err error, detail string) (int, string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		return status, detail
	}
	if status > http.StatusInternalServerError {
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	return status, err.Error()
}
