package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sparkrag/internal/domain"
)

// pointNamespace derives stable point ids from chunk ids; Qdrant only accepts
// unsigned integers or UUIDs.
var pointNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c19-9a53-2d8e7f0b4c61")

// Storage is a minimal REST client to Qdrant using cosine distance.
// Metadata is stored under the "metadata" payload key so filters become
// "metadata.<key>" match conditions.
type Storage struct {
	url        string
	apiKey     string
	collection string
	distance   string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Distance   string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	distance := cfg.Distance
	if distance == "" {
		distance = "Cosine"
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		distance:   distance,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection if it does not exist yet.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": s.distance,
		},
	}
	_, err = s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	return err
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	points := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		points[i] = map[string]any{
			"id":     uuid.NewSHA1(pointNamespace, []byte(ch.ID)).String(),
			"vector": vectors[i],
			"payload": map[string]any{
				"document_id": ch.DocumentID,
				"chunk_id":    ch.ID,
				"index":       ch.Index,
				"text":        ch.Text,
				"metadata":    ch.Metadata,
			},
		}
	}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
	return err
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int, filter domain.Metadata) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				DocumentID string          `json:"document_id"`
				ChunkID    string          `json:"chunk_id"`
				Index      int             `json:"index"`
				Text       string          `json:"text"`
				Metadata   domain.Metadata `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{
				ID:         r.Payload.ChunkID,
				DocumentID: r.Payload.DocumentID,
				Index:      r.Payload.Index,
				Text:       r.Payload.Text,
				Metadata:   r.Payload.Metadata,
			},
			Score: r.Score,
		})
	}
	return results, nil
}

// Delete removes matching points. Qdrant does not report how many points a
// filter delete removed, so the count comes from a preceding count query.
// A missing collection holds nothing to delete.
func (s *Storage) Delete(ctx context.Context, filter domain.Metadata) (int, error) {
	f := buildFilter(filter)
	if f == nil {
		return 0, errors.New("delete requires a non-empty filter")
	}
	var counted struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"filter": f, "exact": true}, &counted)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), map[string]any{"filter": f}, nil); err != nil {
		return 0, err
	}
	return counted.Result.Count, nil
}

// Clear drops the collection. A missing collection is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func buildFilter(filter domain.Metadata) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   "metadata." + k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}
