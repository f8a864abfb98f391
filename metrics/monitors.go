package metrics

import (
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/ingestion"
	"github.com/poiesic/docchat/rag"
	"github.com/poiesic/docchat/search"
)

// Turns returns a rag.TurnMonitor feeding these metrics.
func (m *Metrics) Turns() rag.TurnMonitor {
	return turnMonitor{m}
}

// Ingestion returns an ingestion.Monitor feeding these metrics.
func (m *Metrics) Ingestion() ingestion.Monitor {
	return ingestionMonitor{m}
}

// Search returns a search.SearchMonitor feeding these metrics.
func (m *Metrics) Search() search.SearchMonitor {
	return searchMonitor{m}
}

type turnMonitor struct{ m *Metrics }

var _ rag.TurnMonitor = turnMonitor{}

func (t turnMonitor) Transition(core.ID, rag.State, rag.State) {}

func (t turnMonitor) StageDuration(stage rag.State, took time.Duration) {
	t.m.turnStageDuration.WithLabelValues(string(stage)).Observe(took.Seconds())
}

func (t turnMonitor) RetrievalDegraded(core.ID, error) {
	t.m.retrievalDegraded.Inc()
}

func (t turnMonitor) TurnFinished(_ core.ID, final rag.State, took time.Duration) {
	t.m.turnsTotal.WithLabelValues(string(final)).Inc()
	t.m.turnDuration.Observe(took.Seconds())
}

type ingestionMonitor struct{ m *Metrics }

var _ ingestion.Monitor = ingestionMonitor{}

func (i ingestionMonitor) Enqueued(depth int) {
	i.m.ingestQueueDepth.Set(float64(depth))
}

func (i ingestionMonitor) TaskStarted(_ *core.Task, depth int) {
	i.m.ingestQueueDepth.Set(float64(depth))
	i.m.ingestActiveWorkers.Inc()
}

func (i ingestionMonitor) StageFinished(stage ingestion.Stage, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.m.ingestStageDuration.WithLabelValues(string(stage), outcome).Observe(took.Seconds())
}

func (i ingestionMonitor) TaskFinished(task *core.Task, took time.Duration) {
	i.m.ingestActiveWorkers.Dec()
	i.m.ingestTasksTotal.WithLabelValues(string(task.State)).Inc()
	i.m.ingestTaskDuration.Observe(took.Seconds())
}

type searchMonitor struct{ m *Metrics }

var _ search.SearchMonitor = searchMonitor{}

func (s searchMonitor) Start(string) {}

func (s searchMonitor) AfterEmbedding(_ int, took time.Duration) {
	s.m.searchDuration.WithLabelValues("embed").Observe(took.Seconds())
}

func (s searchMonitor) AfterChunkSearch(chunks []*core.Chunk, took time.Duration) {
	s.m.searchDuration.WithLabelValues("search").Observe(took.Seconds())
	s.m.chunksRetrieved.Observe(float64(len(chunks)))
}

func (s searchMonitor) Failed(error) {
	s.m.searchFailures.Inc()
}
