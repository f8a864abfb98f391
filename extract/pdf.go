// Package extract turns uploaded PDFs into page text and page text into chunk segments.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// ErrNoText indicates a document produced no extractable text.
var ErrNoText = errors.New("no extractable text")

// Page is the cleaned text of one PDF page.
type Page struct {
	Number int // 1-based
	Text   string
}

// PageExtractor reads the pages of a document.
type PageExtractor interface {
	ExtractPages(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error)
}

// PDFExtractor extracts page text with the langchaingo PDF loader.
type PDFExtractor struct{}

var _ PageExtractor = PDFExtractor{}

// ExtractPages returns every page that has text left after cleaning.
func (PDFExtractor) ExtractPages(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error) {
	docs, err := documentloaders.NewPDF(r, size).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	pages := make([]Page, 0, len(docs))
	for i, doc := range docs {
		text := CleanText(doc.PageContent)
		if text == "" {
			continue
		}
		number := i + 1
		if n, ok := doc.Metadata["page"].(int); ok {
			number = n
		}
		pages = append(pages, Page{Number: number, Text: text})
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}
	return pages, nil
}

// CleanText trims every line and drops the blank ones.
func CleanText(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
