package prompt

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkrag/internal/domain"
)

func results(texts ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = domain.SearchResult{Chunk: domain.Chunk{Text: t}}
	}
	return out
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "基于以下上下文回答问题：\nA\nB\n\n问题：Q\n答案：", Format("A\nB", "Q"))
}

func TestBuild_Unlimited(t *testing.T) {
	b, err := NewBuilder(0)
	require.NoError(t, err)
	p, err := b.Build("Q", results("first", "second"))
	require.NoError(t, err)
	assert.Equal(t, Format("first\nsecond", "Q"), p)
}

func TestContext_Budget(t *testing.T) {
	b, err := NewBuilder(1)
	require.NoError(t, err)
	n, err := b.Count("hello")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ctx, err := b.Context(results("hello", "world"))
	require.NoError(t, err)
	assert.Equal(t, "hello", ctx)
}

func TestContext_CutsOversizedFirstChunk(t *testing.T) {
	b, err := NewBuilder(3)
	require.NoError(t, err)
	long := strings.Repeat("hello ", 50)
	ctx, err := b.Context(results(long, "tail"))
	require.NoError(t, err)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 3)
	assert.True(t, strings.HasPrefix(long, ctx))
	assert.NotContains(t, ctx, "tail")
}

func TestContext_CutKeepsWholeCharacters(t *testing.T) {
	long := strings.Repeat("检索增强生成把相关文档片段放入提示词。", 10)
	for budget := 1; budget <= 24; budget++ {
		b, err := NewBuilder(budget)
		require.NoError(t, err)
		ctx, err := b.Context(results(long))
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(ctx), "budget %d: %q", budget, ctx)
		assert.True(t, strings.HasPrefix(long, ctx), "budget %d", budget)
	}
}

func TestContext_ConcurrentCuts(t *testing.T) {
	b, err := NewBuilder(2)
	require.NoError(t, err)
	long := strings.Repeat("hello ", 20)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := b.Context(results(long))
			assert.NoError(t, err)
			assert.NotEmpty(t, ctx)
		}()
	}
	wg.Wait()
}
