package rag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/poiesic/docchat/core"
)

// Mode tells the prompt builder whether document context is available.
type Mode string

const (
	// ModeRAG means at least one chunk cleared the threshold.
	ModeRAG Mode = "rag"
	// ModeBasic means the answer relies on history alone.
	ModeBasic Mode = "basic"
)

// Assembler selects chunks and history for one prompt.
// The zero value keeps no chunks and no history.
type Assembler struct {
	// Threshold is the minimum similarity score a chunk needs.
	Threshold float32
	// TopK caps the number of chunks kept.
	TopK int
	// HistoryWindow is how many trailing messages are kept.
	HistoryWindow int
}

// NewAssembler validates and returns an Assembler.
func NewAssembler(threshold float32, topK, historyWindow int) (Assembler, error) {
	a := Assembler{Threshold: threshold, TopK: topK, HistoryWindow: historyWindow}
	if err := a.Validate(); err != nil {
		return Assembler{}, err
	}
	return a, nil
}

// Validate checks the assembler settings.
func (a Assembler) Validate() error {
	if a.TopK < 0 {
		return fmt.Errorf("%w: top-k must not be negative", ErrInvalidSettings)
	}
	if a.HistoryWindow < 0 {
		return fmt.Errorf("%w: history window must not be negative", ErrInvalidSettings)
	}
	if a.Threshold < -1 || a.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [-1, 1]", ErrInvalidSettings)
	}
	return nil
}

// Input is everything the Assembler works from.
type Input struct {
	Query   string
	Chunks  []*core.Chunk
	History []*core.Message
}

// Context is the bounded prompt context for one turn.
type Context struct {
	Query   string          `json:"query"`
	Mode    Mode            `json:"mode"`
	Chunks  []*core.Chunk   `json:"chunks"`
	History []*core.Message `json:"history"`
}

// Sources returns references to the chunks in prompt order.
func (c *Context) Sources() []core.ChunkRef {
	if c == nil || len(c.Chunks) == 0 {
		return nil
	}
	refs := make([]core.ChunkRef, len(c.Chunks))
	for i, chunk := range c.Chunks {
		refs[i] = chunk.Ref()
	}
	return refs
}

// Assemble builds the Context for in.
//
// Chunks scoring below Threshold are dropped, duplicates keep their best
// score, and the rest are ordered by descending score with ties broken by
// document and then ascending ordinal before being cut to TopK. History is
// ordered by sequence and cut to the last HistoryWindow messages.
//
// When no chunk survives, the returned Context is still usable (Mode is
// ModeBasic) and the error is core.ErrEmptyContext.
func (a Assembler) Assemble(in Input) (*Context, error) {
	ctx := &Context{
		Query:   in.Query,
		Chunks:  a.selectChunks(in.Chunks),
		History: a.selectHistory(in.History),
	}
	if len(ctx.Chunks) == 0 {
		ctx.Mode = ModeBasic
		return ctx, core.ErrEmptyContext
	}
	ctx.Mode = ModeRAG
	return ctx, nil
}

func (a Assembler) selectChunks(chunks []*core.Chunk) []*core.Chunk {
	if a.TopK <= 0 {
		return []*core.Chunk{}
	}

	best := make(map[core.ID]*core.Chunk, len(chunks))
	for _, c := range chunks {
		if c == nil || c.Score < a.Threshold {
			continue
		}
		if prev, ok := best[c.Id]; ok && prev.Score >= c.Score {
			continue
		}
		best[c.Id] = c
	}

	kept := make([]*core.Chunk, 0, len(best))
	for _, c := range best {
		kept = append(kept, c)
	}
	slices.SortFunc(kept, func(x, y *core.Chunk) int {
		if x.Score != y.Score {
			return cmp.Compare(y.Score, x.Score)
		}
		if x.DocumentId != y.DocumentId {
			return cmp.Compare(x.DocumentId, y.DocumentId)
		}
		return cmp.Compare(x.Ordinal, y.Ordinal)
	})

	if len(kept) > a.TopK {
		kept = kept[:a.TopK]
	}
	return kept
}

func (a Assembler) selectHistory(history []*core.Message) []*core.Message {
	if a.HistoryWindow <= 0 {
		return []*core.Message{}
	}

	msgs := make([]*core.Message, 0, len(history))
	for _, m := range history {
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	slices.SortStableFunc(msgs, func(x, y *core.Message) int {
		if c := cmp.Compare(x.Sequence, y.Sequence); c != 0 {
			return c
		}
		return x.Timestamp.Compare(y.Timestamp)
	})

	if len(msgs) > a.HistoryWindow {
		msgs = msgs[len(msgs)-a.HistoryWindow:]
	}
	return msgs
}
