// Package prompt turns retrieved chunks into the question prompt sent to the LLM.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"sparkrag/internal/domain"
)

// NoContextAnswer is returned to users when retrieval finds nothing.
const NoContextAnswer = "暂无相关数据，无法回答问题。"

const template = "基于以下上下文回答问题：\n%s\n\n问题：%s\n答案："

// Builder assembles prompts, keeping the context within a token budget.
// A budget of zero disables the limit.
type Builder struct {
	codec     tokenizer.Codec
	maxTokens int
}

func NewBuilder(maxContextTokens int) (*Builder, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	// Decode builds its reverse vocabulary on first use; do it here so
	// concurrent requests only read it.
	if _, err := codec.Decode(nil); err != nil {
		return nil, err
	}
	return &Builder{codec: codec, maxTokens: maxContextTokens}, nil
}

// Context joins chunk texts in rank order, one per line, stopping before the
// chunk that would exceed the budget. A first chunk that is larger than the
// whole budget is cut to fit.
func (b *Builder) Context(results []domain.SearchResult) (string, error) {
	parts := make([]string, 0, len(results))
	used := 0
	for i, r := range results {
		if b.maxTokens <= 0 {
			parts = append(parts, r.Chunk.Text)
			continue
		}
		ids, _, err := b.codec.Encode(r.Chunk.Text)
		if err != nil {
			return "", err
		}
		if used+len(ids) > b.maxTokens {
			if i == 0 {
				cut, err := b.cut(ids[:b.maxTokens])
				if err != nil {
					return "", err
				}
				parts = append(parts, cut)
			}
			break
		}
		used += len(ids)
		parts = append(parts, r.Chunk.Text)
	}
	return strings.Join(parts, "\n"), nil
}

// cut decodes ids, dropping trailing tokens that hold only part of a
// multi-byte character.
func (b *Builder) cut(ids []uint) (string, error) {
	for n := len(ids); n > 0; n-- {
		text, err := b.codec.Decode(ids[:n])
		if err != nil {
			return "", err
		}
		if utf8.ValidString(text) {
			return text, nil
		}
	}
	return "", nil
}

// Build returns the full prompt for query over results.
func (b *Builder) Build(query string, results []domain.SearchResult) (string, error) {
	ctx, err := b.Context(results)
	if err != nil {
		return "", err
	}
	return Format(ctx, query), nil
}

// Format renders the prompt template.
func Format(context, query string) string {
	return fmt.Sprintf(template, context, query)
}

// Count reports the number of tokens in text.
func (b *Builder) Count(text string) (int, error) {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
