package search

import (
	"time"

	"github.com/poiesic/docchat/core"
)

// SearchMonitor provides hooks to observe the retrieval process.
type SearchMonitor interface {
	Start(query string)
	AfterEmbedding(dimension int, took time.Duration)
	AfterChunkSearch(chunks []*core.Chunk, took time.Duration)
	Failed(err error)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                    {}
func (n *noopMonitor) AfterEmbedding(_ int, _ time.Duration)             {}
func (n *noopMonitor) AfterChunkSearch(_ []*core.Chunk, _ time.Duration) {}
func (n *noopMonitor) Failed(_ error)                                    {}
