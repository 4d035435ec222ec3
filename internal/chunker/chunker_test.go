package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkrag/internal/domain"
)

func texts(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestSentenceChunker_Overlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	chunks, err := c.Chunk(domain.Document{ID: "d", Text: "One. Two. Three. Four"})
	require.NoError(t, err)

	assert.Equal(t, []string{"One. Two.", "Two. Three.", "Three. Four"}, texts(chunks))
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "d", ch.DocumentID)
	}
	assert.Equal(t, "d:2", chunks[2].ID)
}

func TestSentenceChunker_CJK(t *testing.T) {
	c := NewSentenceChunker(2, 0)
	chunks, err := c.Chunk(domain.Document{ID: "d", Text: "今天很好。明天下雨！后天呢？"})
	require.NoError(t, err)
	assert.Equal(t, []string{"今天很好。明天下雨！", "后天呢？"}, texts(chunks))
}

func TestSentenceChunker_Empty(t *testing.T) {
	chunks, err := NewSentenceChunker(3, 1).Chunk(domain.Document{ID: "d", Text: "  \n "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRecursiveChunker(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{"words", 10, 0, "aaaa bbbb cccc dddd", []string{"aaaa bbbb", "cccc dddd"}},
		{"words with overlap", 10, 5, "aaaa bbbb cccc dddd", []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"}},
		{"cjk sentences", 8, 0, "第一句。第二句。第三句。", []string{"第一句。第二句。", "第三句。"}},
		{"no separators", 5, 0, "abcdefghijkl", []string{"abcde", "fghij", "kl"}},
		{"paragraphs first", 12, 0, "short one\n\nshort two", []string{"short one", "short two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRecursiveChunker(tt.size, tt.overlap, nil)
			chunks, err := c.Chunk(domain.Document{ID: "d", Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(chunks))
		})
	}
}

func TestRecursiveChunker_RespectsSize(t *testing.T) {
	text := strings.Repeat("这是一段用于测试的中文文本，包含逗号和句号。", 30)
	chunks, err := NewRecursiveChunker(200, 50, nil).Chunk(domain.Document{ID: "d", Text: text})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, runeLen(ch.Text), 200)
	}
}

func TestHybridChunker(t *testing.T) {
	long := NewRecursiveChunker(20, 0, nil)
	c := NewHybridChunker(30, long)

	doc := domain.Document{ID: "d", Text: "short text", Metadata: domain.Metadata{"source": "a.txt"}}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, "a.txt", chunks[0].Metadata["source"])

	chunks[0].Metadata["source"] = "changed"
	assert.Equal(t, "a.txt", doc.Metadata["source"])

	chunks, err = c.Chunk(domain.Document{ID: "d", Text: strings.Repeat("word ", 20)})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
}
