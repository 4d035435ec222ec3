package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_ShortTextUnchanged(t *testing.T) {
	s := NewFrequencySummarizer()
	assert.Equal(t, "One. Two.", s.Summarize("One.\nTwo.", 3))
	assert.Equal(t, "", s.Summarize("   ", 3))
}

func TestSummarize_PicksFrequentTopicInOrder(t *testing.T) {
	text := "Go has goroutines. Cats sleep a lot. Goroutines make Go concurrent. Bread is tasty."
	got := NewFrequencySummarizer().Summarize(text, 2)
	assert.Equal(t, "Go has goroutines. Goroutines make Go concurrent.", got)
}

func TestSummarize_Han(t *testing.T) {
	text := "星火模型回答问题。今天下雨。星火模型支持流式回答。"
	got := NewFrequencySummarizer().Summarize(text, 2)
	assert.Equal(t, "星火模型回答问题。星火模型支持流式回答。", got)
}
