package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/ingestion"
)

// multipartMemory is how much of a multipart form is held in memory before spilling to disk.
const multipartMemory = 32 << 20

type taskResponse struct {
	TaskId         string              `json:"task_id"`
	DocumentId     core.ID             `json:"document_id"`
	Filename       string              `json:"filename,omitempty"`
	State          core.TaskState      `json:"state"`
	Stage          string              `json:"stage,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	ChunkCount     int                 `json:"chunk_count"`
	DocumentStatus core.DocumentStatus `json:"document_status,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
	Error          string              `json:"error,omitempty"`
}

func newTaskResponse(task *core.Task, doc *core.Document) taskResponse {
	resp := taskResponse{
		TaskId:     task.Id,
		DocumentId: task.DocumentId,
		State:      task.State,
		Stage:      task.Stage,
		Reason:     task.Reason,
		ChunkCount: task.ChunkCount,
		CreatedAt:  task.CreatedAt,
	}
	if !task.StartedAt.IsZero() {
		resp.StartedAt = &task.StartedAt
	}
	if !task.FinishedAt.IsZero() {
		resp.FinishedAt = &task.FinishedAt
	}
	if doc != nil {
		resp.Filename = doc.Filename
		resp.DocumentStatus = doc.Status
		if resp.ChunkCount == 0 {
			resp.ChunkCount = doc.ChunkCount
		}
	}
	return resp
}

func isPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

func readUpload(fh *multipart.FileHeader) (ingestion.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return ingestion.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ingestion.Upload{}, err
	}
	return ingestion.Upload{Filename: filepath.Base(fh.Filename), Data: data}, nil
}

// parseUploadForm bounds the body and parses the multipart form.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > s.maxUploadBytes {
		return fmt.Errorf("upload exceeds %d bytes: %w", s.maxUploadBytes, &http.MaxBytesError{Limit: s.maxUploadBytes})
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return fmt.Errorf("upload exceeds %d bytes: %w", s.maxUploadBytes, err)
		}
		return fmt.Errorf("%w: %w", errBadForm, err)
	}
	return nil
}

var errBadForm = errors.New("invalid multipart form")

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r); err != nil {
		s.failForm(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	fh := files[0]
	if !isPDF(fh.Filename) {
		writeError(w, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}

	up, err := readUpload(fh)
	if err != nil {
		s.fail(w, r, err, "Error processing upload")
		return
	}
	task, doc, err := s.ingestor.Submit(r.Context(), up)
	if err != nil {
		s.fail(w, r, err, "Error processing upload")
		return
	}

	resp := newTaskResponse(task, doc)
	resp.Filename = up.Filename
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r); err != nil {
		s.failForm(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploads []ingestion.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		if !isPDF(fh.Filename) {
			s.logger.Warn("skipping non-PDF upload", "filename", fh.Filename)
			continue
		}
		up, err := readUpload(fh)
		if err != nil {
			s.logger.Warn("skipping unreadable upload", "filename", fh.Filename, "err", err)
			continue
		}
		uploads = append(uploads, up)
	}
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "No valid files were uploaded")
		return
	}

	results := s.ingestor.SubmitBatch(r.Context(), uploads)
	resp := make([]taskResponse, 0, len(results))
	accepted := 0
	for _, res := range results {
		var item taskResponse
		if res.Task != nil {
			item = newTaskResponse(res.Task, res.Document)
		}
		item.Filename = res.Filename
		if res.Err != nil {
			item.Error = res.Err.Error()
			if res.Task == nil {
				item.State = core.TaskFailed
			}
		} else {
			accepted++
		}
		resp = append(resp, item)
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) failForm(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadForm) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.fail(w, r, err, "Error processing upload")
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	status, err := s.ingestor.Task(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("task: %w", err), "Failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(status.Task, status.Document))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to list documents")
		return
	}
	if docs == nil {
		docs = []*core.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.documents.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, fmt.Errorf("document: %w", err), "Failed to load document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReingest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := s.ingestor.Reingest(r.Context(), id)
	if err != nil {
		s.fail(w, r, fmt.Errorf("document: %w", err), "Failed to re-ingest document")
		return
	}
	writeJSON(w, http.StatusAccepted, newTaskResponse(task, nil))
}

// pathID parses an ID path value, writing a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (core.ID, bool) {
	id, err := core.ParseID(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, r.PathValue(name)))
		return 0, false
	}
	return id, true
}
