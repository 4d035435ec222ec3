package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"sparkrag/internal/domain"
)

// fallbackScore is assigned to every candidate when the remote model fails.
const fallbackScore = 0.5

// Config configures the remote cross-encoder service.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Remote delegates scoring to a cross-encoder service exposing POST /rerank.
// A failed call never fails the query: candidates keep their retrieval order
// and each gets fallbackScore.
type Remote struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewRemote(cfg Config) *Remote {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *Remote) Rerank(ctx context.Context, query string, results []domain.SearchResult, topK int) ([]domain.SearchResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	scores, err := r.score(ctx, query, results)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("rerank failed, keeping retrieval order", "error", err)
		out := make([]domain.SearchResult, len(results))
		for i, res := range results {
			out[i] = domain.SearchResult{Chunk: res.Chunk, Score: fallbackScore}
		}
		return truncate(out, topK), nil
	}
	out := make([]domain.SearchResult, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(results) {
			continue
		}
		out = append(out, domain.SearchResult{Chunk: results[s.Index].Chunk, Score: s.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncate(out, topK), nil
}

func (r *Remote) score(ctx context.Context, query string, results []domain.SearchResult) ([]rerankScore, error) {
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Chunk.Text
	}
	data, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: r.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return scores, nil
}
