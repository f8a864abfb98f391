package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/docchat"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/ingestion"
	"github.com/poiesic/docchat/progress"
	"github.com/urfave/cli/v2"
)

func ingestCommand(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one PDF file is required")
	}

	uploads := make([]ingestion.Upload, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		uploads = append(uploads, ingestion.Upload{Filename: filepath.Base(path), Data: data})
	}

	tracker := progress.NewTracker(os.Stderr, "documents", len(uploads), 1)
	app, err := openApp(c, docchat.WithIngestionOptions(ingestion.WithMonitor(trackerMonitor{tracker})))
	if err != nil {
		return err
	}
	defer app.Close()
	coordinator := app.Coordinator()

	ctx := c.Context
	if _, err := coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	tracker.Start()
	coordinator.Start(ctx)

	submissions := coordinator.SubmitBatch(ctx, uploads)
	for _, s := range submissions {
		if s.Err != nil {
			tracker.Fail()
		}
	}
	if err := coordinator.Drain(ctx); err != nil {
		return err
	}
	tracker.Finish()

	return printSubmissions(ctx, coordinator, submissions)
}

func printSubmissions(ctx context.Context, coordinator *ingestion.Coordinator, submissions []ingestion.Submission) error {
	failed := 0
	for _, s := range submissions {
		if s.Task == nil {
			failed++
			fmt.Printf("%-40s failed: %v\n", s.Filename, s.Err)
			continue
		}
		status, err := coordinator.Task(ctx, s.Task.Id)
		if err != nil {
			return err
		}
		task := status.Task
		if task.State == core.TaskFailed {
			failed++
			fmt.Printf("%-40s failed: %s\n", s.Filename, task.Reason)
			continue
		}
		fmt.Printf("%-40s %s, document %d, %d chunks\n", s.Filename, task.State, task.DocumentId, task.ChunkCount)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(submissions))
	}
	return nil
}

// trackerMonitor advances a progress tracker as tasks finish.
type trackerMonitor struct {
	tracker *progress.Tracker
}

var _ ingestion.Monitor = trackerMonitor{}

func (trackerMonitor) Enqueued(int)                                        {}
func (trackerMonitor) TaskStarted(*core.Task, int)                         {}
func (trackerMonitor) StageFinished(ingestion.Stage, time.Duration, error) {}

func (m trackerMonitor) TaskFinished(task *core.Task, _ time.Duration) {
	if task.State == core.TaskFailed {
		m.tracker.Fail()
		return
	}
	m.tracker.Increment(1)
}
