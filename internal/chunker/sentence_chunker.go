package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"sparkrag/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		overlapSentences = 0
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`[^.!?。！？]+(?:[.!?。！？]+|$)`),
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	var sentences []string
	for _, s := range c.splitter.FindAllString(document.Text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return nil, nil
	}
	var texts []string
	i := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		texts = append(texts, joinSentences(sentences[i:end]))
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
	}
	return buildChunks(document, texts), nil
}

// joinSentences separates Latin sentences with a space and leaves CJK
// sentences adjacent.
func joinSentences(sentences []string) string {
	var sb strings.Builder
	for i, s := range sentences {
		if i > 0 && !strings.HasSuffix(sentences[i-1], "。") &&
			!strings.HasSuffix(sentences[i-1], "！") && !strings.HasSuffix(sentences[i-1], "？") {
			sb.WriteByte(' ')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// buildChunks numbers texts in order and copies the document metadata onto each.
func buildChunks(document domain.Document, texts []string) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(texts))
	for idx, text := range texts {
		md := make(domain.Metadata, len(document.Metadata))
		for k, v := range document.Metadata {
			md[k] = v
		}
		chunks = append(chunks, domain.Chunk{
			ID:         document.ID + ":" + strconv.Itoa(idx),
			DocumentID: document.ID,
			Text:       text,
			Index:      idx,
			Metadata:   md,
		})
	}
	return chunks
}
