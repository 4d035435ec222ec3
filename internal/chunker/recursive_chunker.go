package chunker

import (
	"strings"
	"unicode/utf8"

	"sparkrag/internal/domain"
)

// DefaultSeparators are tried in order, from paragraph breaks down to single
// characters.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "……", "...", "，", " ", ""}

// RecursiveChunker splits on the coarsest separator present, recursing into
// pieces that are still too long, then merges neighbouring pieces into chunks
// of at most size characters that overlap by up to overlap characters.
// Separators stay attached to the end of the piece they terminate.
type RecursiveChunker struct {
	size       int
	overlap    int
	separators []string
}

func NewRecursiveChunker(size, overlap int, separators []string) *RecursiveChunker {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveChunker{size: size, overlap: overlap, separators: separators}
}

func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Text) == "" {
		return nil, nil
	}
	return buildChunks(document, c.split(document.Text, c.separators)), nil
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, short []string
	for _, piece := range splitAfter(text, sep) {
		if runeLen(piece) < c.size {
			short = append(short, piece)
			continue
		}
		if len(short) > 0 {
			out = append(out, c.merge(short)...)
			short = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(piece))
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(short) > 0 {
		out = append(out, c.merge(short)...)
	}
	return out
}

func (c *RecursiveChunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

func splitAfter(text, sep string) []string {
	var parts []string
	if sep == "" {
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.SplitAfter(text, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
