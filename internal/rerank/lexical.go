package rerank

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"sparkrag/internal/domain"
)

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Lexical scores candidates by token overlap with the query using the
// Ochiai coefficient. Han text is compared per character.
type Lexical struct{}

func NewLexical() *Lexical { return &Lexical{} }

func (l *Lexical) Rerank(_ context.Context, query string, results []domain.SearchResult, topK int) ([]domain.SearchResult, error) {
	qset := tokenSet(query)
	out := make([]domain.SearchResult, len(results))
	for i, r := range results {
		out[i] = domain.SearchResult{Chunk: r.Chunk, Score: ochiai(qset, tokenSet(r.Chunk.Text))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncate(out, topK), nil
}

func tokenSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, word := range unicodeWordRe.FindAllString(strings.ToLower(s), -1) {
		if !containsHan(word) {
			m[word] = struct{}{}
			continue
		}
		for _, r := range word {
			m[string(r)] = struct{}{}
		}
	}
	return m
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range b {
		if _, ok := a[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

func truncate(results []domain.SearchResult, topK int) []domain.SearchResult {
	if topK > 0 && topK < len(results) {
		return results[:topK]
	}
	return results
}
