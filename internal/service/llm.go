package service

import (
	"context"

	"sparkrag/internal/domain"
	"sparkrag/internal/spark"
)

type sparkLLM struct {
	client *spark.Client
}

// NewSparkLLM exposes a spark client as a domain.LLM.
func NewSparkLLM(c *spark.Client) domain.LLM {
	return sparkLLM{client: c}
}

func (l sparkLLM) Ask(ctx context.Context, prompt string) (string, error) {
	return l.client.Ask(ctx, prompt)
}

func (l sparkLLM) AskStreaming(ctx context.Context, prompt string) (domain.AnswerStream, error) {
	s, err := l.client.AskStreaming(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
