package extract

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Segment is one chunk of page text before it is embedded.
type Segment struct {
	Text       string
	PageNumber int
}

// Chunker splits page text into segments.
type Chunker interface {
	Split(pages []Page) ([]Segment, error)
}

// Splitter chunks each page independently with a recursive character splitter,
// so a segment never spans two pages.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

var _ Chunker = (*Splitter)(nil)

// NewSplitter creates a splitter producing segments of at most size characters
// with overlap characters shared between neighbours.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.New("chunk overlap must be smaller than chunk size")
	}
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
	}, nil
}

// Split returns the segments of every page in page order.
func (s *Splitter) Split(pages []Page) ([]Segment, error) {
	var segments []Segment
	for _, page := range pages {
		parts, err := s.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Number, err)
		}
		for _, part := range parts {
			if part == "" {
				continue
			}
			segments = append(segments, Segment{Text: part, PageNumber: page.Number})
		}
	}
	if len(segments) == 0 {
		return nil, ErrNoText
	}
	return segments, nil
}
