package core

import (
	"errors"
	"math"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "same content produces same ID", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestChunkID(t *testing.T) {
	if ChunkID(1, 0) != ChunkID(1, 0) {
		t.Error("ChunkID() is not deterministic")
	}
	if ChunkID(1, 0) == ChunkID(1, 1) {
		t.Error("ChunkID() collides across ordinals")
	}
	if ChunkID(1, 2) == ChunkID(2, 1) {
		t.Error("ChunkID() collides across documents")
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("%PDF-1.4 a"))
	b := ContentHash([]byte("%PDF-1.4 b"))
	if len(a) != 64 {
		t.Errorf("ContentHash() length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("ContentHash() produced same digest for different input")
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID(ID(42).String())
	if err != nil || id != 42 {
		t.Errorf("ParseID() = %d, %v", id, err)
	}
	if _, err := ParseID("abc"); err == nil {
		t.Error("ParseID() accepted non-numeric input")
	}
}

func TestTaskState_Terminal(t *testing.T) {
	tests := map[TaskState]bool{
		TaskQueued:    false,
		TaskRunning:   false,
		TaskSucceeded: true,
		TaskFailed:    true,
	}
	for state, want := range tests {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeVector() = %v", v)
	}
	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("NormalizeVector(zero) = %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{2, 0}); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("parallel vectors = %f, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := CosineSimilarity(nil, []float32{1}); got != 0 {
		t.Errorf("empty vector = %f, want 0", got)
	}
}

func TestIngestionStageError(t *testing.T) {
	cause := errors.New("bad xref table")
	err := error(&IngestionStageError{Stage: "extract", Err: cause})

	if !errors.Is(err, ErrIngestionStage) {
		t.Error("expected ErrIngestionStage in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if err.Error() != "extract stage failed: bad xref table" {
		t.Errorf("Error() = %q", err.Error())
	}
}
