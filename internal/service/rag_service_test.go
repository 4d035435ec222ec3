package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkrag/internal/chunker"
	"sparkrag/internal/domain"
	"sparkrag/internal/embedding/hashing"
	"sparkrag/internal/prompt"
	"sparkrag/internal/rerank"
	"sparkrag/internal/spark"
	"sparkrag/internal/vectorstore/memory"
)

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (f *fakeLLM) Ask(_ context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.answer, f.err
}

func (f *fakeLLM) AskStreaming(ctx context.Context, p string) (domain.AnswerStream, error) {
	answer, err := f.Ask(ctx, p)
	if err != nil {
		return nil, err
	}
	return &chunkStream{chunks: strings.Split(answer, " ")}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type chunkStream struct{ chunks []string }

func (s *chunkStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Close() error { return nil }

func newTestService(t *testing.T, llm domain.LLM, rr domain.Reranker) (*RAGService, *memory.Storage) {
	t.Helper()
	pb, err := prompt.NewBuilder(0)
	require.NoError(t, err)
	store := memory.NewStorage()
	return NewRAGService(Options{
		Chunker:    chunker.NewSentenceChunker(1, 0),
		Embedder:   hashing.NewEmbedder(256),
		Store:      store,
		Reranker:   rr,
		LLM:        llm,
		Prompt:     pb,
		Candidates: 2,
	}), store
}

func drain(t *testing.T, s domain.AnswerStream) []string {
	t.Helper()
	var out []string
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func TestAsk_NoContextSkipsLLM(t *testing.T) {
	llm := &fakeLLM{answer: "unused"}
	svc, _ := newTestService(t, llm, nil)

	ans, err := svc.Ask(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Equal(t, prompt.NoContextAnswer, ans.Text)
	assert.Empty(t, ans.Sources)

	stream, sources, err := svc.AskStream(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, sources)
	assert.Equal(t, []string{prompt.NoContextAnswer}, drain(t, stream))
	assert.Zero(t, llm.calls())
}

func TestAsk_BuildsPromptFromRetrievedContext(t *testing.T) {
	llm := &fakeLLM{answer: "Go uses goroutines"}
	svc, _ := newTestService(t, llm, rerank.NewLexical())
	ctx := context.Background()

	_, err := svc.AddText(ctx, "Goroutines are lightweight threads in golang. Bananas are yellow fruit.", domain.Metadata{"topic": "mixed"})
	require.NoError(t, err)

	ans, err := svc.Ask(ctx, "what are goroutines in golang", 1)
	require.NoError(t, err)
	assert.Equal(t, "Go uses goroutines", ans.Text)
	require.Len(t, ans.Sources, 1)
	assert.Contains(t, ans.Sources[0].Chunk.Text, "Goroutines")

	require.Equal(t, 1, llm.calls())
	assert.Equal(t, prompt.Format(ans.Sources[0].Chunk.Text, "what are goroutines in golang"), llm.prompts[0])
}

func TestAskStream_RelaysChunks(t *testing.T) {
	llm := &fakeLLM{answer: "a b c"}
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()
	_, err := svc.AddText(ctx, "Channels connect goroutines.", nil)
	require.NoError(t, err)

	stream, sources, err := svc.AskStream(ctx, "channels", 3)
	require.NoError(t, err)
	defer stream.Close()
	assert.Len(t, sources, 1)
	assert.Equal(t, []string{"a", "b", "c"}, drain(t, stream))
}

func TestAsk_LLMErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	svc, _ := newTestService(t, &fakeLLM{err: boom}, nil)
	ctx := context.Background()
	_, err := svc.AddText(ctx, "Channels connect goroutines.", nil)
	require.NoError(t, err)

	_, err = svc.Ask(ctx, "channels", 3)
	assert.ErrorIs(t, err, boom)
}

func TestSearchAndDelete_Filter(t *testing.T) {
	svc, store := newTestService(t, &fakeLLM{}, nil)
	ctx := context.Background()

	n, err := svc.AddBatch(ctx,
		[]string{"Red apples grow on trees.", "Red cars drive fast."},
		[]domain.Metadata{{"kind": "fruit"}, {"kind": "vehicle"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := svc.Search(ctx, "red", 5, domain.Metadata{"kind": "vehicle"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Chunk.Text, "cars")

	removed, err := svc.Delete(ctx, domain.Metadata{"kind": "fruit"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func TestValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{}, nil)
	ctx := context.Background()

	_, err := svc.AddText(ctx, "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddBatch(ctx, []string{"a", "b"}, []domain.Metadata{{}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Delete(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Search(ctx, "", 1, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Ask(ctx, "", 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := svc.Delete(ctx, domain.Metadata{"kind": "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestFiles_ReplacesSource(t *testing.T) {
	svc, store := newTestService(t, &fakeLLM{}, nil)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("One. Two. Three."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.md"), []byte("Ignored."), 0o644))

	n, err := svc.IngestFiles(ctx, []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, os.WriteFile(path, []byte("Only one."), 0o644))
	_, err = svc.IngestFiles(ctx, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	_, err = svc.IngestFiles(ctx, []string{filepath.Join(dir, "*.md")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSparkLLM_SigningErrorIsNilStream(t *testing.T) {
	c, err := spark.New(spark.Config{URL: "wss://spark-api.xf-yun.com/v4.0/chat", Domain: "4.0Ultra"})
	require.NoError(t, err)
	llm := NewSparkLLM(c)

	stream, err := llm.AskStreaming(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, spark.KindSigning, spark.KindOf(err))
	assert.True(t, stream == nil)

	_, err = llm.Ask(context.Background(), "hi")
	assert.Equal(t, spark.KindSigning, spark.KindOf(err))
}
