package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"sparkrag/internal/service"
	"sparkrag/internal/spark"
)

const kindInvalidInput = "invalid_input"

// kindStatus maps LLM failure kinds to HTTP status codes.
var kindStatus = map[spark.ErrorKind]int{
	spark.KindSigning:    http.StatusInternalServerError,
	spark.KindConnection: http.StatusBadGateway,
	spark.KindProtocol:   http.StatusBadGateway,
	spark.KindTimeout:    http.StatusGatewayTimeout,
	spark.KindCanceled:   http.StatusServiceUnavailable,
}

// classify returns the status, client message and kind for err. Internal
// failures are reported with fallback so their details stay in the logs.
func classify(err error, fallback string) (int, string, string) {
	if errors.Is(err, service.ErrInvalidInput) {
		return http.StatusBadRequest, err.Error(), kindInvalidInput
	}
	var se *spark.Error
	if errors.As(err, &se) {
		status, ok := kindStatus[se.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, se.Error(), string(se.Kind)
	}
	return http.StatusInternalServerError, fallback, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	noteError(r.Context(), err)
	status, msg, kind := classify(err, fallback)
	var se *spark.Error
	if errors.As(err, &se) && se.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
