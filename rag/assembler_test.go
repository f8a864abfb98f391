package rag

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(doc core.ID, ordinal int, score float32) *core.Chunk {
	return &core.Chunk{
		Id:         core.ChunkID(doc, ordinal),
		DocumentId: doc,
		Ordinal:    ordinal,
		Text:       "text",
		PageNumber: ordinal/2 + 1,
		Filename:   "doc.pdf",
		Score:      score,
	}
}

func message(seq uint64, role core.Role, content string) *core.Message {
	return &core.Message{
		Sequence:  seq,
		Role:      role,
		Content:   content,
		Timestamp: time.Date(2025, 1, 1, 0, 0, int(seq), 0, time.UTC),
	}
}

func TestNewAssembler(t *testing.T) {
	_, err := NewAssembler(0.6, 10, 5)
	require.NoError(t, err)

	_, err = NewAssembler(0.6, -1, 5)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewAssembler(0.6, 10, -1)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewAssembler(1.5, 10, 5)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestAssemble_ThresholdAndOrdering(t *testing.T) {
	a := Assembler{Threshold: 0.75, TopK: 5, HistoryWindow: 5}

	ctx, err := a.Assemble(Input{
		Query: "q",
		Chunks: []*core.Chunk{
			chunk(1, 0, 0.70),
			chunk(1, 1, 0.80),
			chunk(1, 2, 0.40),
			chunk(1, 3, 0.91),
			chunk(1, 4, 0.74),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeRAG, ctx.Mode)
	require.Len(t, ctx.Chunks, 2)
	assert.Equal(t, 3, ctx.Chunks[0].Ordinal)
	assert.Equal(t, 1, ctx.Chunks[1].Ordinal)
}

func TestAssemble_TiesBrokenByOrdinal(t *testing.T) {
	a := Assembler{Threshold: 0.5, TopK: 10}

	ctx, err := a.Assemble(Input{Chunks: []*core.Chunk{
		chunk(4, 9, 0.8),
		chunk(4, 2, 0.8),
		chunk(4, 5, 0.9),
		chunk(4, 7, 0.8),
	}})
	require.NoError(t, err)

	ordinals := make([]int, len(ctx.Chunks))
	for i, c := range ctx.Chunks {
		ordinals[i] = c.Ordinal
	}
	assert.Equal(t, []int{5, 2, 7, 9}, ordinals)
}

func TestAssemble_TopKCap(t *testing.T) {
	a := Assembler{Threshold: 0, TopK: 3}

	var chunks []*core.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunk(2, i, float32(i)/10))
	}
	ctx, err := a.Assemble(Input{Chunks: chunks})
	require.NoError(t, err)
	require.Len(t, ctx.Chunks, 3)
	assert.Equal(t, 9, ctx.Chunks[0].Ordinal)
	assert.Equal(t, 7, ctx.Chunks[2].Ordinal)
}

func TestAssemble_Deduplicates(t *testing.T) {
	a := Assembler{Threshold: 0.1, TopK: 10}

	low := chunk(3, 1, 0.3)
	high := chunk(3, 1, 0.6)
	ctx, err := a.Assemble(Input{Chunks: []*core.Chunk{low, chunk(3, 2, 0.5), high, nil}})
	require.NoError(t, err)
	require.Len(t, ctx.Chunks, 2)
	assert.Same(t, high, ctx.Chunks[0])
}

func TestAssemble_EmptyContext(t *testing.T) {
	a := Assembler{Threshold: 0.9, TopK: 5, HistoryWindow: 2}
	history := []*core.Message{
		message(0, core.RoleUser, "hi"),
		message(1, core.RoleAssistant, "hello"),
	}

	ctx, err := a.Assemble(Input{Query: "q", Chunks: []*core.Chunk{chunk(1, 0, 0.2)}, History: history})
	assert.ErrorIs(t, err, core.ErrEmptyContext)
	require.NotNil(t, ctx, "context is usable even without chunks")
	assert.Equal(t, ModeBasic, ctx.Mode)
	assert.Empty(t, ctx.Chunks)
	assert.Len(t, ctx.History, 2)
	assert.Nil(t, ctx.Sources())
}

func TestAssemble_HistoryWindow(t *testing.T) {
	a := Assembler{TopK: 1, HistoryWindow: 3}

	// Deliberately out of order
	history := []*core.Message{
		message(4, core.RoleUser, "e"),
		message(0, core.RoleUser, "a"),
		message(2, core.RoleUser, "c"),
		message(1, core.RoleAssistant, "b"),
		message(3, core.RoleAssistant, "d"),
	}
	ctx, _ := a.Assemble(Input{History: history})
	require.Len(t, ctx.History, 3)
	assert.Equal(t, "c", ctx.History[0].Content)
	assert.Equal(t, "d", ctx.History[1].Content)
	assert.Equal(t, "e", ctx.History[2].Content)

	none := Assembler{TopK: 1}
	ctx, _ = none.Assemble(Input{History: history})
	assert.Empty(t, ctx.History)
}

func TestAssemble_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for i := 0; i < 200; i++ {
		a := Assembler{
			Threshold:     rng.Float32(),
			TopK:          rng.IntN(8),
			HistoryWindow: rng.IntN(6),
		}

		var chunks []*core.Chunk
		for j := 0; j < rng.IntN(30); j++ {
			chunks = append(chunks, chunk(core.ID(rng.IntN(3)+1), j, rng.Float32()))
		}
		var history []*core.Message
		for j := 0; j < rng.IntN(12); j++ {
			history = append(history, message(uint64(j), core.RoleUser, "m"))
		}
		rng.Shuffle(len(history), func(x, y int) { history[x], history[y] = history[y], history[x] })

		ctx, _ := a.Assemble(Input{Chunks: chunks, History: history})

		assert.LessOrEqual(t, len(ctx.Chunks), a.TopK)
		for k, c := range ctx.Chunks {
			assert.GreaterOrEqual(t, c.Score, a.Threshold)
			if k > 0 {
				assert.GreaterOrEqual(t, ctx.Chunks[k-1].Score, c.Score)
			}
		}

		assert.LessOrEqual(t, len(ctx.History), a.HistoryWindow)
		for k := 1; k < len(ctx.History); k++ {
			assert.False(t, ctx.History[k].Timestamp.Before(ctx.History[k-1].Timestamp))
		}
	}
}

func TestContextSources(t *testing.T) {
	ctx := &Context{Chunks: []*core.Chunk{chunk(5, 3, 0.9)}}
	refs := ctx.Sources()
	require.Len(t, refs, 1)
	assert.Equal(t, core.ID(5), refs[0].DocumentId)
	assert.Equal(t, 3, refs[0].Ordinal)
	assert.Equal(t, 2, refs[0].PageNumber)
	assert.InDelta(t, 0.9, refs[0].Score, 1e-6)
}
