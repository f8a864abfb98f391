package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// TaskRepository implements storage.TaskRepository for BadgerDB.
type TaskRepository struct {
	backend *Backend
}

var _ storage.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(backend *Backend) *TaskRepository {
	return &TaskRepository{
		backend: backend,
	}
}

// Close releases resources. TaskRepository has no resources to release.
func (r *TaskRepository) Close() error {
	return nil
}

// SaveTask creates or overwrites a task.
func (r *TaskRepository) SaveTask(ctx context.Context, task *core.Task) error {
	if task.Id == "" {
		return storage.ErrInvalidQuery
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return writeRecord(tx, makeTaskKey(task.Id), task)
	})
}

// GetTask retrieves a task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task *core.Task
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		task, err = readRecord[core.Task](tx, makeTaskKey(id))
		if err != nil {
			return err
		}
		if task == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return task, err
}

// ListTasks returns tasks in any of the given states, oldest first.
func (r *TaskRepository) ListTasks(ctx context.Context, states ...core.TaskState) ([]*core.Task, error) {
	var results []*core.Task
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(taskPrefix), false, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				task, err := storage.Unmarshal[core.Task](val)
				if err != nil {
					return err
				}
				if len(states) == 0 || slices.Contains(states, task.State) {
					results = append(results, task)
				}
				return nil
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}

	// Task IDs are random, so order by creation time
	slices.SortStableFunc(results, func(a, b *core.Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return results, nil
}
