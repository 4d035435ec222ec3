package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sparkrag/internal/domain"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
// Chunks are keyed by ID; upserting an existing ID replaces it.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	ids       map[string]int
	vectors   [][]float64
	chunks    []domain.Chunk
}

func NewStorage() *Storage { return &Storage{ids: make(map[string]int)} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension && len(s.chunks) > 0 {
		return errors.New("vector dimension mismatch with stored chunks")
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for i, ch := range chunks {
		if j, ok := s.ids[ch.ID]; ok {
			s.chunks[j] = ch
			s.vectors[j] = vectors[i]
			continue
		}
		s.ids[ch.ID] = len(s.chunks)
		s.chunks = append(s.chunks, ch)
		s.vectors = append(s.vectors, vectors[i])
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float64, topK int, filter domain.Metadata) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	// vectors are assumed L2-normalized, so the dot product is the cosine
	var results []domain.SearchResult
	for i := range s.vectors {
		if !s.chunks[i].Metadata.Matches(filter) {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: s.chunks[i], Score: dot(s.vectors[i], vector)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *Storage) Delete(_ context.Context, filter domain.Metadata) (int, error) {
	if len(filter) == 0 {
		return 0, errors.New("delete requires a non-empty filter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keptChunks := s.chunks[:0]
	keptVectors := s.vectors[:0]
	removed := 0
	for i, ch := range s.chunks {
		if ch.Metadata.Matches(filter) {
			removed++
			continue
		}
		keptChunks = append(keptChunks, ch)
		keptVectors = append(keptVectors, s.vectors[i])
	}
	s.chunks, s.vectors = keptChunks, keptVectors
	s.ids = make(map[string]int, len(s.chunks))
	for i, ch := range s.chunks {
		s.ids[ch.ID] = i
	}
	return removed, nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	s.ids = make(map[string]int)
	return nil
}

// Len returns the number of stored chunks.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
