package ingestion

import (
	"time"

	"github.com/poiesic/docchat/core"
)

// Monitor provides hooks to observe ingestion.
// Implementations must be safe for concurrent use.
type Monitor interface {
	// Enqueued is called after a task is queued, with the resulting queue depth.
	Enqueued(depth int)
	// TaskStarted is called when a worker picks up a task.
	TaskStarted(task *core.Task, depth int)
	StageFinished(stage Stage, took time.Duration, err error)
	TaskFinished(task *core.Task, took time.Duration)
}

type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (noopMonitor) Enqueued(int)                              {}
func (noopMonitor) TaskStarted(*core.Task, int)               {}
func (noopMonitor) StageFinished(Stage, time.Duration, error) {}
func (noopMonitor) TaskFinished(*core.Task, time.Duration)    {}

// monitors fans every call out to several monitors.
type monitors []Monitor

var _ Monitor = monitors(nil)

func (ms monitors) Enqueued(depth int) {
	for _, m := range ms {
		m.Enqueued(depth)
	}
}

func (ms monitors) TaskStarted(task *core.Task, depth int) {
	for _, m := range ms {
		m.TaskStarted(task, depth)
	}
}

func (ms monitors) StageFinished(stage Stage, took time.Duration, err error) {
	for _, m := range ms {
		m.StageFinished(stage, took, err)
	}
}

func (ms monitors) TaskFinished(task *core.Task, took time.Duration) {
	for _, m := range ms {
		m.TaskFinished(task, took)
	}
}
