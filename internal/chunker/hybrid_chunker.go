package chunker

import (
	"strings"

	"sparkrag/internal/domain"
)

// HybridChunker keeps short texts whole and hands longer ones to another chunker.
type HybridChunker struct {
	minLength int
	long      domain.Chunker
}

func NewHybridChunker(minLength int, long domain.Chunker) *HybridChunker {
	if minLength <= 0 {
		minLength = 300
	}
	return &HybridChunker{minLength: minLength, long: long}
}

func (c *HybridChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := strings.TrimSpace(document.Text)
	if text == "" {
		return nil, nil
	}
	if runeLen(text) < c.minLength {
		return buildChunks(document, []string{text}), nil
	}
	return c.long.Chunk(document)
}
