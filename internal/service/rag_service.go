package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sparkrag/internal/domain"
	"sparkrag/internal/prompt"
)

// ErrInvalidInput marks caller mistakes such as empty text or a missing filter.
var ErrInvalidInput = errors.New("invalid input")

const (
	defaultAskTopK    = 3
	defaultSearchTopK = 5
)

// Options wires the collaborators of a RAGService. Reranker is optional.
type Options struct {
	Chunker  domain.Chunker
	Embedder domain.Embedder
	Store    domain.VectorStore
	Reranker domain.Reranker
	LLM      domain.LLM
	Prompt   *prompt.Builder
	// Candidates is how many results per requested result are fetched from
	// the store before reranking.
	Candidates int
	Logger     *slog.Logger
}

// Answer is the result of a blocking Ask.
type Answer struct {
	Text    string
	Sources []domain.SearchResult
}

// RAGService indexes text and answers questions over it.
type RAGService struct {
	chunker    domain.Chunker
	embedder   domain.Embedder
	store      domain.VectorStore
	reranker   domain.Reranker
	llm        domain.LLM
	prompt     *prompt.Builder
	candidates int
	logger     *slog.Logger
	tracer     trace.Tracer

	// the store is initialized lazily with the dimension of the first vector
	mu        sync.Mutex
	dimension int
}

func NewRAGService(opts Options) *RAGService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	candidates := opts.Candidates
	if candidates <= 0 {
		candidates = 1
	}
	return &RAGService{
		chunker:    opts.Chunker,
		embedder:   opts.Embedder,
		store:      opts.Store,
		reranker:   opts.Reranker,
		llm:        opts.LLM,
		prompt:     opts.Prompt,
		candidates: candidates,
		logger:     logger,
		tracer:     otel.Tracer("sparkrag/service"),
	}
}

// AddText splits text into chunks and indexes them. It returns the document id.
func (s *RAGService) AddText(ctx context.Context, text string, md domain.Metadata) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	doc := domain.Document{ID: uuid.NewString(), Text: text, Metadata: md}
	if _, err := s.index(ctx, []domain.Document{doc}); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// AddBatch indexes texts as separate documents. metadatas may be nil; otherwise
// it must have one entry per text.
func (s *RAGService) AddBatch(ctx context.Context, texts []string, metadatas []domain.Metadata) (int, error) {
	if metadatas != nil && len(metadatas) != len(texts) {
		return 0, fmt.Errorf("%w: got %d metadatas for %d texts", ErrInvalidInput, len(metadatas), len(texts))
	}
	docs := make([]domain.Document, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		doc := domain.Document{ID: uuid.NewString(), Text: t}
		if metadatas != nil {
			doc.Metadata = metadatas[i]
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("%w: no non-empty texts", ErrInvalidInput)
	}
	if _, err := s.index(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// IngestFiles reads .txt files matching the given paths or globs. Each file is
// tagged with its path under the "source"; re-ingesting a file replaces its
// previous chunks. It returns the number of chunks written.
func (s *RAGService) IngestFiles(ctx context.Context, paths []string) (int, error) {
	var documents []domain.Document
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.HasSuffix(strings.ToLower(m), ".txt") {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return 0, err
			}
			documents = append(documents, domain.Document{
				ID:       hashString(m),
				Text:     string(data),
				Metadata: domain.Metadata{"source": m},
			})
		}
	}
	if len(documents) == 0 {
		return 0, fmt.Errorf("%w: no .txt documents found", ErrInvalidInput)
	}
	return s.index(ctx, documents)
}

func (s *RAGService) index(ctx context.Context, documents []domain.Document) (int, error) {
	var chunks []domain.Chunk
	for _, d := range documents {
		cs, err := s.chunker.Chunk(d)
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", d.ID, err)
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	vectors := make([][]float64, len(chunks))
	for i := range chunks {
		vec, err := s.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", chunks[i].ID, err)
		}
		vectors[i] = vec
	}
	if err := s.ensureInit(ctx, len(vectors[0])); err != nil {
		return 0, err
	}
	for _, d := range documents {
		src, ok := d.Metadata["source"].(string)
		if !ok || src == "" {
			continue
		}
		if _, err := s.store.Delete(ctx, domain.Metadata{"source": src}); err != nil {
			return 0, fmt.Errorf("replace %s: %w", src, err)
		}
	}
	if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	s.logger.Debug("indexed documents", "documents", len(documents), "chunks", len(chunks))
	return len(chunks), nil
}

func (s *RAGService) ensureInit(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == dimension {
		return nil
	}
	if s.dimension != 0 {
		return fmt.Errorf("vector dimension %d does not match store dimension %d", dimension, s.dimension)
	}
	if err := s.store.Init(ctx, dimension); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	s.dimension = dimension
	return nil
}

// Search returns the chunks most similar to query whose metadata matches filter.
func (s *RAGService) Search(ctx context.Context, query string, topK int, filter domain.Metadata) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	return s.search(ctx, query, topK, filter)
}

func (s *RAGService) search(ctx context.Context, query string, topK int, filter domain.Metadata) ([]domain.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// a query made only of stopwords embeds to zero and matches nothing
	if isZero(vec) {
		return nil, nil
	}
	// a persistent store may already hold chunks from an earlier process
	if err := s.ensureInit(ctx, len(vec)); err != nil {
		return nil, err
	}
	return s.store.Search(ctx, vec, topK, filter)
}

// Delete removes chunks whose metadata matches filter.
func (s *RAGService) Delete(ctx context.Context, filter domain.Metadata) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: filter is empty", ErrInvalidInput)
	}
	return s.store.Delete(ctx, filter)
}

// retrieve fetches candidates and reranks them down to topK.
func (s *RAGService) retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if topK <= 0 {
		topK = defaultAskTopK
	}
	results, err := s.search(ctx, query, topK*s.candidates, nil)
	if err != nil || len(results) == 0 || s.reranker == nil {
		if len(results) > topK {
			results = results[:topK]
		}
		return results, err
	}
	return s.reranker.Rerank(ctx, query, results, topK)
}

// Ask answers query from the topK best chunks. When nothing is retrieved the
// LLM is not called and the answer is prompt.NoContextAnswer.
func (s *RAGService) Ask(ctx context.Context, query string, topK int) (Answer, error) {
	ctx, span := s.tracer.Start(ctx, "service.Ask")
	defer span.End()

	results, err := s.retrieve(ctx, query, topK)
	if err != nil {
		return Answer{}, err
	}
	span.SetAttributes(attribute.Int("rag.results", len(results)))
	if len(results) == 0 {
		return Answer{Text: prompt.NoContextAnswer}, nil
	}
	p, err := s.prompt.Build(query, results)
	if err != nil {
		return Answer{}, err
	}
	text, err := s.llm.Ask(ctx, p)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Sources: results}, nil
}

// AskStream is Ask with the answer delivered incrementally. The caller must
// Close the returned stream.
func (s *RAGService) AskStream(ctx context.Context, query string, topK int) (domain.AnswerStream, []domain.SearchResult, error) {
	results, err := s.retrieve(ctx, query, topK)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return &staticStream{text: prompt.NoContextAnswer}, nil, nil
	}
	p, err := s.prompt.Build(query, results)
	if err != nil {
		return nil, nil, err
	}
	stream, err := s.llm.AskStreaming(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return stream, results, nil
}

// staticStream yields a single chunk.
type staticStream struct {
	text string
	done bool
}

func (s *staticStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *staticStream) Close() error {
	s.done = true
	return nil
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
