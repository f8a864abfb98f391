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


package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/extract"
	"github.com/poiesic/docchat/storage"
)

// reasonInterrupted is recorded on work a previous process left unfinished.
const reasonInterrupted = "interrupted before completion"

// Upload is one file handed to Submit.
type Upload struct {
	Filename string
	Data     []byte
}

// Submission is the outcome of one upload in SubmitBatch.
type Submission struct {
	Filename string
	Task     *core.Task
	Document *core.Document
	Err      error
}

// Status combines a task with the current state of its document.
type Status struct {
	Task     *core.Task
	Document *core.Document
}

type job struct {
	taskID     string
	documentID core.ID
}

// Coordinator queues uploaded documents and processes them on a worker pool.
type Coordinator struct {
	documents storage.DocumentRepository
	tasks     storage.TaskRepository
	blobs     storage.BlobStore
	proc      *processor

	poolSize       int
	queueSize      int
	releaseTimeout time.Duration
	pool           *ants.Pool
	queue          chan job
	inflight       inflight

	mu       sync.RWMutex
	closed   bool
	started  bool
	stop     chan struct{}
	stopped  chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	monitors monitors

	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithPoolSize sets the number of documents processed concurrently.
// Default is 4, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(c *Coordinator) error {
		if size < 1 {
			size = 1
		}
		c.poolSize = size
		return nil
	}
}

// WithQueueSize sets how many tasks may wait for a worker.
// Default is 100, with a minimum of 1.
func WithQueueSize(size int) Option {
	return func(c *Coordinator) error {
		if size < 1 {
			size = 1
		}
		c.queueSize = size
		return nil
	}
}

// WithChunking sets the chunk size and overlap, in characters.
func WithChunking(size, overlap int) Option {
	return func(c *Coordinator) error {
		s, err := extract.NewSplitter(size, overlap)
		if err != nil {
			return err
		}
		c.proc.chunker = s
		return nil
	}
}

// WithChunker replaces the text splitter.
func WithChunker(chunker extract.Chunker) Option {
	return func(c *Coordinator) error {
		if chunker != nil {
			c.proc.chunker = chunker
		}
		return nil
	}
}

// WithExtractor replaces the PDF text extractor.
func WithExtractor(extractor extract.PageExtractor) Option {
	return func(c *Coordinator) error {
		if extractor != nil {
			c.proc.extractor = extractor
		}
		return nil
	}
}

// WithEmbedBatchSize sets how many segments go into one embedding call.
func WithEmbedBatchSize(size int) Option {
	return func(c *Coordinator) error {
		c.proc.batchSize = size
		return nil
	}
}

// WithStageTimeout bounds each processing stage. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.proc.stageTimeout = d
		return nil
	}
}

// WithReleaseTimeout bounds how long Release waits for running workers.
func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.releaseTimeout = d
		return nil
	}
}

// WithMonitor adds monitors.
func WithMonitor(ms ...Monitor) Option {
	return func(c *Coordinator) error {
		for _, m := range ms {
			if m != nil {
				c.monitors = append(c.monitors, m)
			}
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewCoordinator creates a Coordinator. Call Start to begin processing.
func NewCoordinator(
	documents storage.DocumentRepository,
	tasks storage.TaskRepository,
	chunks storage.ChunkStore,
	blobs storage.BlobStore,
	provider ai.AIProvider,
	opts ...Option,
) (*Coordinator, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if tasks == nil {
		return nil, ErrTaskRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkStoreRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	splitter, err := extract.NewSplitter(512, 50)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		documents: documents,
		tasks:     tasks,
		blobs:     blobs,
		proc: &processor{
			blobs:        blobs,
			chunks:       chunks,
			extractor:    extract.PDFExtractor{},
			chunker:      splitter,
			embedder:     provider.Embedder(),
			batchSize:    32,
			stageTimeout: 5 * time.Minute,
		},
		poolSize:       4,
		queueSize:      100,
		releaseTimeout: 30 * time.Second,
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
		logger:         slog.Default().With("component", "ingestion"),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(c.poolSize)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.queue = make(chan job, c.queueSize)

	var monitor Monitor = noopMonitor{}
	if len(c.monitors) > 0 {
		monitor = c.monitors
	}
	c.proc.monitor = monitor
	c.proc.logger = c.logger

	return c, nil
}

func (c *Coordinator) monitor() Monitor {
	return c.proc.monitor
}

// Start launches the dispatcher. Tasks queued before Start wait in the queue.
// Canceling ctx aborts running work; use Release for an orderly stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	go c.dispatch()
}

func (c *Coordinator) dispatch() {
	defer close(c.stopped)
	for {
		select {
		case <-c.stop:
			return
		case j := <-c.queue:
			err := c.pool.Submit(func() {
				defer c.inflight.done()
				c.run(c.baseCtx, j)
			})
			if err != nil {
				c.logger.Error("failed to hand task to worker", "task", j.taskID, "err", err)
				c.finishFailed(context.Background(), j, err.Error())
				c.inflight.done()
			}
		}
	}
}

// Submit stores an upload, records its document and task, and queues it.
// It returns as soon as the task is queued.
func (c *Coordinator) Submit(ctx context.Context, up Upload) (*core.Task, *core.Document, error) {
	if len(up.Data) == 0 {
		return nil, nil, ErrEmptyUpload
	}
	if c.isClosed() {
		return nil, nil, ErrCoordinatorClosed
	}

	path, err := c.blobs.Put(ctx, up.Filename, bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		return nil, nil, fmt.Errorf("storing upload: %w", err)
	}

	doc, err := c.documents.CreateDocument(ctx, &core.Document{
		Filename:    up.Filename,
		StoragePath: path,
		ContentHash: core.ContentHash(up.Data),
		Size:        int64(len(up.Data)),
		Status:      core.DocumentPending,
	})
	if err != nil {
		if delErr := c.blobs.Delete(ctx, path); delErr != nil {
			c.logger.Warn("failed to remove orphaned upload", "path", path, "err", delErr)
		}
		return nil, nil, err
	}

	task, err := c.enqueue(ctx, doc.Id)
	if err != nil {
		reason := err.Error()
		if _, upErr := c.documents.UpdateDocument(ctx, doc.Id, func(d *core.Document) error {
			d.Status = core.DocumentFailed
			d.Error = reason
			return nil
		}); upErr != nil {
			c.logger.Error("failed to mark document failed", "document", doc.Id, "err", upErr)
		}
		return task, nil, err
	}

	c.logger.Info("document queued", "document", doc.Id, "task", task.Id, "filename", doc.Filename)
	return task, doc, nil
}

// SubmitBatch submits each upload independently.
func (c *Coordinator) SubmitBatch(ctx context.Context, uploads []Upload) []Submission {
	results := make([]Submission, len(uploads))
	for i, up := range uploads {
		task, doc, err := c.Submit(ctx, up)
		results[i] = Submission{Filename: up.Filename, Task: task, Document: doc, Err: err}
	}
	return results
}

// Reingest queues a stored document for processing again. The new chunk set
// replaces the old one atomically when the run succeeds; a failed run leaves
// the old chunks in place. Documents still pending or processing are rejected
// with ErrIngestionInProgress.
func (c *Coordinator) Reingest(ctx context.Context, documentID core.ID) (*core.Task, error) {
	if c.isClosed() {
		return nil, ErrCoordinatorClosed
	}

	var previous core.Document
	_, err := c.documents.UpdateDocument(ctx, documentID, func(d *core.Document) error {
		if d.Status == core.DocumentPending || d.Status == core.DocumentProcessing {
			return ErrIngestionInProgress
		}
		previous = *d
		d.Status = core.DocumentPending
		d.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	task, err := c.enqueue(ctx, documentID)
	if err != nil {
		if _, upErr := c.documents.UpdateDocument(ctx, documentID, func(d *core.Document) error {
			d.Status = previous.Status
			d.Error = previous.Error
			return nil
		}); upErr != nil {
			c.logger.Error("failed to restore document status", "document", documentID, "err", upErr)
		}
		return nil, err
	}

	c.logger.Info("document re-queued", "document", documentID, "task", task.Id)
	return task, nil
}

// enqueue records a queued task and puts it on the queue.
// On ErrQueueFull the task is recorded as failed and returned with the error.
func (c *Coordinator) enqueue(ctx context.Context, documentID core.ID) (*core.Task, error) {
	task := &core.Task{
		Id:         uuid.NewString(),
		DocumentId: documentID,
		State:      core.TaskQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return c.rejectTask(ctx, task, ErrCoordinatorClosed)
	}

	c.inflight.add()
	select {
	case c.queue <- job{taskID: task.Id, documentID: documentID}:
		c.monitor().Enqueued(len(c.queue))
		return task, nil
	default:
		c.inflight.done()
		return c.rejectTask(ctx, task, ErrQueueFull)
	}
}

func (c *Coordinator) rejectTask(ctx context.Context, task *core.Task, reason error) (*core.Task, error) {
	task.State = core.TaskFailed
	task.Reason = reason.Error()
	task.FinishedAt = time.Now().UTC()
	if err := c.tasks.SaveTask(ctx, task); err != nil {
		c.logger.Error("failed to record rejected task", "task", task.Id, "err", err)
	}
	return task, reason
}

// run processes one task on a worker.
func (c *Coordinator) run(ctx context.Context, j job) {
	logger := c.logger.With("task", j.taskID, "document", j.documentID)
	start := time.Now()

	task, err := c.tasks.GetTask(ctx, j.taskID)
	if err != nil {
		logger.Error("failed to load task", "err", err)
		return
	}
	task.State = core.TaskRunning
	task.StartedAt = start.UTC()
	if err := c.tasks.SaveTask(ctx, task); err != nil {
		logger.Error("failed to mark task running", "err", err)
	}
	c.monitor().TaskStarted(task, len(c.queue))

	doc, err := c.documents.UpdateDocument(ctx, j.documentID, func(d *core.Document) error {
		d.Status = core.DocumentProcessing
		return nil
	})
	if err != nil {
		c.finish(ctx, logger, task, start, outcome{}, fmt.Errorf("loading document: %w", err))
		return
	}

	enter := func(stage Stage) {
		task.Stage = string(stage)
		if err := c.tasks.SaveTask(ctx, task); err != nil {
			logger.Warn("failed to record stage", "stage", stage, "err", err)
		}
		logger.Debug("stage started", "stage", stage)
	}

	result, err := c.proc.process(ctx, doc, enter)
	c.finish(ctx, logger, task, start, result, err)
}

// finish records the final task and document state.
// Writes use a detached context so a canceled run is still recorded.
func (c *Coordinator) finish(ctx context.Context, logger *slog.Logger, task *core.Task, start time.Time, result outcome, runErr error) {
	ctx = context.WithoutCancel(ctx)
	task.FinishedAt = time.Now().UTC()

	if runErr != nil {
		task.State = core.TaskFailed
		task.Reason = failureReason(runErr)
		logger.Error("ingestion failed", "stage", task.Stage, "err", runErr)
	} else {
		task.State = core.TaskSucceeded
		task.ChunkCount = result.chunks
		task.Stage = ""
		logger.Info("ingestion completed", "chunks", result.chunks, "pages", result.pages, "took", time.Since(start))
	}

	_, err := c.documents.UpdateDocument(ctx, task.DocumentId, func(d *core.Document) error {
		if runErr != nil {
			d.Status = core.DocumentFailed
			d.Error = task.Reason
			return nil
		}
		d.Status = core.DocumentCompleted
		d.ChunkCount = result.chunks
		d.TotalPages = result.pages
		d.Error = ""
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("failed to record document outcome", "err", err)
	}

	if err := c.tasks.SaveTask(ctx, task); err != nil {
		logger.Error("failed to record task outcome", "err", err)
	}
	c.monitor().TaskFinished(task, time.Since(start))
}

// finishFailed marks a task that never reached a worker as failed.
func (c *Coordinator) finishFailed(ctx context.Context, j job, reason string) {
	task, err := c.tasks.GetTask(ctx, j.taskID)
	if err != nil {
		c.logger.Error("failed to load task", "task", j.taskID, "err", err)
		return
	}
	c.finish(ctx, c.logger.With("task", j.taskID), task, time.Now(), outcome{}, errors.New(reason))
}

// failureReason renders a human-readable reason naming the failed stage.
func failureReason(err error) string {
	var stageErr *core.IngestionStageError
	if errors.As(err, &stageErr) {
		if errors.Is(stageErr.Err, extract.ErrNoText) {
			return "document contains no extractable text"
		}
		if errors.Is(stageErr.Err, context.DeadlineExceeded) {
			return fmt.Sprintf("%s stage timed out", stageErr.Stage)
		}
	}
	return strings.TrimSpace(err.Error())
}

// Task returns a task along with its document's current state.
func (c *Coordinator) Task(ctx context.Context, id string) (*Status, error) {
	task, err := c.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := c.documents.GetDocument(ctx, task.DocumentId)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return &Status{Task: task, Document: doc}, nil
}

// Recover fails tasks that an earlier process left queued or running, along
// with their documents. Call it before Start. It returns how many tasks were
// recovered.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	leftover, err := c.tasks.ListTasks(ctx, core.TaskQueued, core.TaskRunning)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, task := range leftover {
		task.State = core.TaskFailed
		task.Reason = reasonInterrupted
		task.FinishedAt = now
		if err := c.tasks.SaveTask(ctx, task); err != nil {
			return 0, err
		}
		_, err := c.documents.UpdateDocument(ctx, task.DocumentId, func(d *core.Document) error {
			if d.Status == core.DocumentPending || d.Status == core.DocumentProcessing {
				d.Status = core.DocumentFailed
				d.Error = reasonInterrupted
			}
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		c.logger.Warn("recovered interrupted task", "task", task.Id, "document", task.DocumentId)
	}
	return len(leftover), nil
}

// Drain waits until every queued and running task has finished or ctx ends.
func (c *Coordinator) Drain(ctx context.Context) error {
	return c.inflight.wait(ctx)
}

// QueueDepth returns the number of tasks waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.queue)
}

// Release stops accepting work, stops the dispatcher and waits up to the
// release timeout for running workers. Tasks still queued stay queued in the
// task repository for Recover to find.
func (c *Coordinator) Release() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.stop)
	c.mu.Unlock()

	if started {
		<-c.stopped
	}
	// Undispatched jobs stay queued in the repository
	for {
		select {
		case <-c.queue:
			c.inflight.done()
			continue
		default:
		}
		break
	}

	if err := c.pool.ReleaseTimeout(c.releaseTimeout); err != nil {
		c.logger.Warn("workers still running at release", "err", err)
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// inflight counts tasks that are queued or running.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
