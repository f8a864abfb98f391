package rag

import (
	"time"

	"github.com/poiesic/docchat/core"
)

// TurnMonitor provides hooks to observe chat turns.
// Implementations must be safe for concurrent use.
type TurnMonitor interface {
	Transition(conversationID core.ID, from, to State)
	StageDuration(stage State, took time.Duration)
	RetrievalDegraded(conversationID core.ID, err error)
	TurnFinished(conversationID core.ID, final State, took time.Duration)
}

type noopMonitor struct{}

var _ TurnMonitor = (*noopMonitor)(nil)

func (noopMonitor) Transition(_ core.ID, _, _ State)                 {}
func (noopMonitor) StageDuration(_ State, _ time.Duration)           {}
func (noopMonitor) RetrievalDegraded(_ core.ID, _ error)             {}
func (noopMonitor) TurnFinished(_ core.ID, _ State, _ time.Duration) {}
