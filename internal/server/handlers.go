package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"sparkrag/internal/domain"
)

// topK accepts a number or a numeric string.
type topK int

func (k *topK) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*k = topK(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("top_k must be an integer")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid literal for top_k: %q", s)
	}
	*k = topK(n)
	return nil
}

type askRequest struct {
	Query *string `json:"query"`
	TopK  *topK   `json:"top_k"`
}

type addRequest struct {
	Text     *string         `json:"text"`
	Metadata json.RawMessage `json:"metadata"`
}

type addBatchRequest struct {
	Texts     []string          `json:"texts"`
	Metadatas []domain.Metadata `json:"metadatas"`
}

type searchRequest struct {
	Query  *string         `json:"query"`
	TopK   *topK           `json:"top_k"`
	Filter domain.Metadata `json:"filter"`
}

type deleteRequest struct {
	Filter domain.Metadata `json:"filter"`
}

type source struct {
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
	Score    float64         `json:"score"`
}

func toSources(results []domain.SearchResult) []source {
	out := make([]source, len(results))
	for i, r := range results {
		md := r.Chunk.Metadata
		if md == nil {
			md = domain.Metadata{}
		}
		out[i] = source{Text: r.Chunk.Text, Metadata: md, Score: r.Score}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'query' field")
		return
	}
	ans, err := s.rag.Ask(r.Context(), *req.Query, s.intOr(req.TopK, s.opts.AskTopK))
	if err != nil {
		s.writeError(w, r, err, "Internal server error")
		return
	}
	noteSources(r.Context(), len(ans.Sources))
	writeJSON(w, http.StatusOK, map[string]any{"answer": ans.Text, "sources": toSources(ans.Sources)})
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'query' field")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	stream, sources, err := s.rag.AskStream(r.Context(), *req.Query, s.intOr(req.TopK, s.opts.AskTopK))
	if err != nil {
		s.writeError(w, r, err, "Internal server error")
		return
	}
	defer stream.Close()
	noteSources(r.Context(), len(sources))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			noteError(r.Context(), err)
			_, msg, kind := classify(err, "Internal server error")
			data, _ := json.Marshal(map[string]string{"error": msg, "kind": kind})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			flusher.Flush()
			return
		}
		noteChunk(r.Context())
		data, _ := json.Marshal(map[string]string{"answer": chunk})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'text' field")
		return
	}
	var md domain.Metadata
	if raw := bytes.TrimSpace(req.Metadata); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] != '{' || json.Unmarshal(raw, &md) != nil {
			writeMessage(w, http.StatusBadRequest, "metadata must be a dictionary")
			return
		}
	}
	id, err := s.rag.AddText(r.Context(), *req.Text, md)
	if err != nil {
		s.writeError(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "count": 1, "id": id})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req addBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Texts == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'texts' array")
		return
	}
	n, err := s.rag.AddBatch(r.Context(), req.Texts, req.Metadatas)
	if err != nil {
		s.writeError(w, r, err, "Batch add failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "count": n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'query' field")
		return
	}
	results, err := s.rag.Search(r.Context(), *req.Query, s.intOr(req.TopK, s.opts.SearchTopK), req.Filter)
	if err != nil {
		s.writeError(w, r, err, "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toSources(results)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Filter == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'filter' field")
		return
	}
	n, err := s.rag.Delete(r.Context(), req.Filter)
	if err != nil {
		s.writeError(w, r, err, "Delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted": n})
}

func (s *Server) intOr(k *topK, def int) int {
	if k == nil {
		return def
	}
	return int(*k)
}

// decode reads a JSON object body. Type errors become "Invalid parameter"
// responses; an empty or unparsable body is reported as such.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF), errors.As(err, &syntaxErr):
		writeMessage(w, http.StatusBadRequest, "Request body must be a JSON object")
	default:
		writeMessage(w, http.StatusBadRequest, "Invalid parameter: "+err.Error())
	}
	return false
}
