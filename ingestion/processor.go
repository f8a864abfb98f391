package ingestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/extract"
	"github.com/poiesic/docchat/storage"
)

// Stage names one step of document processing.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
)

// outcome is what a successful run produced.
type outcome struct {
	pages  int
	chunks int
}

// processor runs one document through every stage.
type processor struct {
	blobs        storage.BlobStore
	chunks       storage.ChunkStore
	extractor    extract.PageExtractor
	chunker      extract.Chunker
	embedder     ai.Embedder
	batchSize    int
	stageTimeout time.Duration
	monitor      Monitor
	logger       *slog.Logger
}

// process runs the stages in order, calling enter before each one.
// Errors are *core.IngestionStageError naming the stage that failed.
func (p *processor) process(ctx context.Context, doc *core.Document, enter func(Stage)) (outcome, error) {
	logger := p.logger.With("document", doc.Id)

	var pages []extract.Page
	err := p.stage(ctx, StageExtract, enter, func(ctx context.Context) error {
		blob, err := p.blobs.Open(ctx, doc.StoragePath)
		if err != nil {
			return err
		}
		defer blob.Close()
		pages, err = p.extractor.ExtractPages(ctx, blob, blob.Size())
		return err
	})
	if err != nil {
		return outcome{}, err
	}
	logger.Debug("extracted pages", "pages", len(pages))

	var segments []extract.Segment
	err = p.stage(ctx, StageChunk, enter, func(context.Context) error {
		var err error
		segments, err = p.chunker.Split(pages)
		return err
	})
	if err != nil {
		return outcome{}, err
	}
	logger.Debug("split into segments", "segments", len(segments))

	var vectors [][]float32
	err = p.stage(ctx, StageEmbed, enter, func(ctx context.Context) error {
		texts := make([]string, len(segments))
		for i, seg := range segments {
			texts[i] = seg.Text
		}
		var err error
		vectors, err = embedTexts(ctx, p.embedder, texts, p.batchSize)
		return err
	})
	if err != nil {
		return outcome{}, err
	}

	chunks := make([]*core.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(doc.Id, i),
			DocumentId: doc.Id,
			Ordinal:    i,
			Text:       seg.Text,
			PageNumber: seg.PageNumber,
			Filename:   doc.Filename,
			Vector:     vectors[i],
		}
	}

	err = p.stage(ctx, StageStore, enter, func(ctx context.Context) error {
		return p.chunks.ReplaceDocumentChunks(ctx, doc.Id, chunks)
	})
	if err != nil {
		return outcome{}, err
	}

	return outcome{pages: len(pages), chunks: len(chunks)}, nil
}

func (p *processor) stage(ctx context.Context, stage Stage, enter func(Stage), fn func(ctx context.Context) error) error {
	enter(stage)
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if err == nil {
		err = ctx.Err()
	}
	p.monitor.StageFinished(stage, time.Since(start), err)
	if err != nil {
		return &core.IngestionStageError{Stage: string(stage), Err: err}
	}
	return nil
}
