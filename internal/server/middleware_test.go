package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkrag/internal/spark"
)

// serveLogged runs one request through the full router and returns the
// decoded access log line.
func serveLogged(t *testing.T, rag RAG, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	router := New(rag, Options{}, logger).Router

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))

	var line map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &entry))
		if entry["msg"] == "request completed" {
			line = entry
		}
	}
	require.NotNil(t, line, "no access log line in %q", buf.String())
	return rec, line
}

func TestLogging_StreamFailureCarriesKind(t *testing.T) {
	rag := &fakeRAG{
		chunks:    []string{"A", "B"},
		streamErr: &spark.Error{Kind: spark.KindProtocol, Code: 10907, Message: "token limit exceeded"},
	}
	rec, line := serveLogged(t, rag, "/ask/stream", `{"query":"q"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "protocol", line["error_kind"])
	assert.Contains(t, line["error"], "token limit exceeded")
	assert.EqualValues(t, 2, line["chunks"])
	assert.EqualValues(t, 1, line["sources"])
	assert.EqualValues(t, rec.Body.Len(), line["bytes"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), line["request_id"])
}

func TestLogging_UpstreamErrorIsError(t *testing.T) {
	rag := &fakeRAG{askErr: &spark.Error{Kind: spark.KindTimeout, Message: "idle"}}
	rec, line := serveLogged(t, rag, "/ask", `{"query":"q"}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "timeout", line["error_kind"])
	assert.NotContains(t, line, "chunks")
}

func TestLogging_InvalidInputIsInfo(t *testing.T) {
	rec, line := serveLogged(t, &fakeRAG{}, "/add", `{"text":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, kindInvalidInput, line["error_kind"])
	assert.EqualValues(t, 400, line["status"])
}
