package domain

import (
	"context"
	"reflect"
)

// Metadata is free-form document metadata. Filters match on equality.
type Metadata map[string]any

// Document is a single text submitted for indexing.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Chunk is a part of a document used for indexing. It inherits the
// document's metadata.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Index      int
	Metadata   Metadata
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	// Dimension is zero until the first vector is produced for embedders
	// that learn it from the remote model.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float64) error
	// Search returns at most topK results whose metadata matches filter.
	Search(ctx context.Context, vector []float64, topK int, filter Metadata) ([]SearchResult, error)
	// Delete removes every chunk whose metadata matches filter and reports how many.
	Delete(ctx context.Context, filter Metadata) (int, error)
	Clear(ctx context.Context) error
}

// Reranker reorders candidate results for a query, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []SearchResult, topK int) ([]SearchResult, error)
}

// AnswerStream yields answer chunks until io.EOF.
type AnswerStream interface {
	Recv() (string, error)
	Close() error
}

// LLM answers prompts, either in one piece or incrementally.
type LLM interface {
	Ask(ctx context.Context, prompt string) (string, error)
	AskStreaming(ctx context.Context, prompt string) (AnswerStream, error)
}

// Matches reports whether md contains every key of filter with an equal value.
// Values are compared after normalizing numbers, so 1 and 1.0 match.
func (md Metadata) Matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
