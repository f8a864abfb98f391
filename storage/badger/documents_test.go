package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepositories(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestDocumentLifecycle(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	doc, err := repos.Documents.CreateDocument(ctx, &core.Document{Filename: "guide.pdf", StoragePath: "uploads/guide.pdf"})
	require.NoError(t, err)
	assert.NotZero(t, doc.Id)
	assert.Equal(t, core.DocumentPending, doc.Status)
	assert.False(t, doc.CreatedAt.IsZero())

	updated, err := repos.Documents.UpdateDocument(ctx, doc.Id, func(d *core.Document) error {
		d.Status = core.DocumentCompleted
		d.ChunkCount = 6
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.DocumentCompleted, updated.Status)

	got, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 6, got.ChunkCount)
	assert.Equal(t, "uploads/guide.pdf", got.StoragePath)
}

func TestCreateDocument_Invalid(t *testing.T) {
	repos := setupRepositories(t)

	_, err := repos.Documents.CreateDocument(context.Background(), &core.Document{})
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

func TestUpdateDocument_CallbackErrorLeavesRecord(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	doc, err := repos.Documents.CreateDocument(ctx, &core.Document{Filename: "a.pdf"})
	require.NoError(t, err)

	refuse := errors.New("refused")
	_, err = repos.Documents.UpdateDocument(ctx, doc.Id, func(d *core.Document) error {
		d.Status = core.DocumentFailed
		return refuse
	})
	assert.ErrorIs(t, err, refuse)

	got, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentPending, got.Status)
}

func TestDocuments_NotFound(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	_, err := repos.Documents.GetDocument(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repos.Documents.UpdateDocument(ctx, 999, func(*core.Document) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListDocuments_NewestFirst(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	for _, name := range []string{"one.pdf", "two.pdf", "three.pdf"} {
		_, err := repos.Documents.CreateDocument(ctx, &core.Document{Filename: name})
		require.NoError(t, err)
	}

	docs, err := repos.Documents.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "three.pdf", docs[0].Filename)
	assert.Equal(t, "one.pdf", docs[2].Filename)
}

func TestTasks(t *testing.T) {
	repos := setupRepositories(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	tasks := []*core.Task{
		{Id: "b", DocumentId: 1, State: core.TaskRunning, CreatedAt: base.Add(2 * time.Second)},
		{Id: "a", DocumentId: 2, State: core.TaskQueued, CreatedAt: base.Add(1 * time.Second)},
		{Id: "c", DocumentId: 3, State: core.TaskSucceeded, CreatedAt: base.Add(3 * time.Second)},
	}
	for _, task := range tasks {
		require.NoError(t, repos.Tasks.SaveTask(ctx, task))
	}

	got, err := repos.Tasks.GetTask(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, core.TaskRunning, got.State)

	open, err := repos.Tasks.ListTasks(ctx, core.TaskQueued, core.TaskRunning)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].Id)
	assert.Equal(t, "b", open[1].Id)

	all, err := repos.Tasks.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = repos.Tasks.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, repos.Tasks.SaveTask(ctx, &core.Task{}), storage.ErrInvalidQuery)
}
