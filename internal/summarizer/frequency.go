// Package summarizer builds short extractive digests of ingested text.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	sentenceRe = regexp.MustCompile(`[^.!?。！？\n]+[.!?。！？]*`)
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// FrequencySummarizer ranks sentences by the normalized frequency of their
// tokens. Han text is scored per character.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of the highest scoring sentences in
// their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	var sentences []string
	for _, sent := range sentenceRe.FindAllString(text, -1) {
		if sent = strings.TrimSpace(sent); sent != "" {
			sentences = append(sentences, sent)
		}
	}
	if len(sentences) <= maxSentences {
		return joinSentences(sentences)
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = s.tokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, toks := range tokens {
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok] / maxF
		}
		// length-normalized so long sentences do not always win
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return joinSentences(out)
}

func (s *FrequencySummarizer) tokens(text string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := s.stopwords[w]; stop {
			continue
		}
		if !strings.ContainsFunc(w, isHan) {
			out = append(out, w)
			continue
		}
		for _, r := range w {
			out = append(out, string(r))
		}
	}
	return out
}

func isHan(r rune) bool { return unicode.Is(unicode.Han, r) }

func joinSentences(sentences []string) string {
	var b strings.Builder
	for i, sent := range sentences {
		if i > 0 && !strings.ContainsFunc(sent, isHan) {
			b.WriteByte(' ')
		}
		b.WriteString(sent)
	}
	return b.String()
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "it", "this", "that", "from", "so", "into", "about", "can", "will", "just", "should",
		"的", "了", "是", "在", "和",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
