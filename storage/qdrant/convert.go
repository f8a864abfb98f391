package qdrant

import (
	"fmt"

	"github.com/poiesic/docchat/core"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys
const (
	fieldDocumentID = "document_id"
	fieldOrdinal    = "ordinal"
	fieldPage       = "page_number"
	fieldFilename   = "filename"
	fieldText       = "text"
)

func toPoint(c *core.Chunk) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(c.Id)),
		Vectors: qdrant.NewVectors(c.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			fieldDocumentID: int64(c.DocumentId),
			fieldOrdinal:    int64(c.Ordinal),
			fieldPage:       int64(c.PageNumber),
			fieldFilename:   c.Filename,
			fieldText:       c.Text,
		}),
	}
}

func pointID(id *qdrant.PointId) (core.ID, error) {
	if id == nil {
		return 0, fmt.Errorf("point has no id")
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Num:
		return core.ID(v.Num), nil
	default:
		return 0, fmt.Errorf("unexpected PointId type: %T", v)
	}
}

func fromPayload(id core.ID, payload map[string]*qdrant.Value) *core.Chunk {
	return &core.Chunk{
		Id:         id,
		DocumentId: core.ID(payload[fieldDocumentID].GetIntegerValue()),
		Ordinal:    int(payload[fieldOrdinal].GetIntegerValue()),
		PageNumber: int(payload[fieldPage].GetIntegerValue()),
		Filename:   payload[fieldFilename].GetStringValue(),
		Text:       payload[fieldText].GetStringValue(),
	}
}

func fromScoredPoint(p *qdrant.ScoredPoint) (*core.Chunk, error) {
	id, err := pointID(p.GetId())
	if err != nil {
		return nil, err
	}
	chunk := fromPayload(id, p.GetPayload())
	chunk.Score = p.GetScore()
	return chunk, nil
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) (*core.Chunk, error) {
	id, err := pointID(p.GetId())
	if err != nil {
		return nil, err
	}
	chunk := fromPayload(id, p.GetPayload())
	chunk.Vector = p.GetVectors().GetVector().GetData()
	return chunk, nil
}

func documentFilter(documentID core.ID) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt(fieldDocumentID, int64(documentID)),
		},
	}
}

// staleChunksFilter selects a document's chunks at or beyond ordinal.
func staleChunksFilter(documentID core.ID, ordinal int) *qdrant.Filter {
	from := float64(ordinal)
	f := documentFilter(documentID)
	f.Must = append(f.Must, qdrant.NewRange(fieldOrdinal, &qdrant.Range{Gte: &from}))
	return f
}

func collectionDimension(info *qdrant.CollectionInfo) int {
	if info == nil ||
		info.Config == nil ||
		info.Config.Params == nil ||
		info.Config.Params.VectorsConfig == nil ||
		info.Config.Params.VectorsConfig.Config == nil {
		return 0
	}
	if cfg, ok := info.Config.Params.VectorsConfig.Config.(*qdrant.VectorsConfig_Params); ok {
		return int(cfg.Params.Size)
	}
	return 0
}
