package docchat

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docchat/ai/mock"
	"github.com/poiesic/docchat/config"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/extract"
	"github.com/poiesic/docchat/ingestion"
)

const pumpFact = "The pump operates at 40 bar."

type staticExtractor struct{}

func (staticExtractor) ExtractPages(context.Context, io.ReaderAt, int64) ([]extract.Page, error) {
	return []extract.Page{{Number: 1, Text: pumpFact}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db")
	cfg.Uploads.Dir = filepath.Join(t.TempDir(), "uploads")
	cfg.AI.EmbeddingDimension = mock.DefaultDimension
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := New(context.Background(), testConfig(t),
		WithProvider(mock.NewMockProvider()),
		WithIngestionOptions(ingestion.WithExtractor(staticExtractor{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestNew(t *testing.T) {
	t.Run("opens every component", func(t *testing.T) {
		app := newTestApp(t)
		assert.NotNil(t, app.Documents())
		assert.NotNil(t, app.Conversations())
		assert.NotNil(t, app.ChunkStore())
		assert.NotNil(t, app.Searcher())
		assert.NotNil(t, app.Orchestrator())
		assert.NotNil(t, app.Coordinator())
		assert.NotNil(t, app.Metrics())
		assert.NoError(t, app.ChunkStore().Health(context.Background()))
	})

	t.Run("error with invalid path", func(t *testing.T) {
		cfg := testConfig(t)
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))
		cfg.Storage.Path = tmpFile

		app, err := New(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, app)
	})

	t.Run("rejects an unknown retrieval policy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retrieval.FailurePolicy = "shrug"

		app, err := New(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, app)
	})
}

func TestClose(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	assert.NoError(t, app.Close())
}

func TestUploadThenChat(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	app.Coordinator().Start(ctx)

	srv, err := app.NewServer()
	require.NoError(t, err)
	handler := srv.Handler()

	// Upload
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "pump.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 pump manual"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var task struct {
		TaskId     string  `json:"task_id"`
		DocumentId core.ID `json:"document_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, app.Coordinator().Drain(drainCtx))

	doc, err := app.Documents().GetDocument(ctx, task.DocumentId)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentCompleted, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)

	// Chat
	conv, err := app.Conversations().CreateConversation(ctx, core.PlaceholderTitle)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]string{"message": pumpFact})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat/"+conv.Id.String(), bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var answer struct {
		Mode      string          `json:"mode"`
		Sources   []core.ChunkRef `json:"sources"`
		Persisted bool            `json:"persisted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, "rag", answer.Mode)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, task.DocumentId, answer.Sources[0].DocumentId)
	assert.Equal(t, "pump.pdf", answer.Sources[0].Filename)
	assert.True(t, answer.Persisted)
}

func TestNewReindexer(t *testing.T) {
	app := newTestApp(t)
	var out bytes.Buffer
	summary, err := app.NewReindexer(&out, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Chunks)
}
