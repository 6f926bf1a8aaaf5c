package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seantiz/kernelgate/internal/engine"
)

const maxBodySize = 1 << 20 // 1 MB

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps a registry fault onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status, msg := engineErrorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "error", err)
	}
	s.writeError(w, status, msg)
}

func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrKernelNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Error executing code: " + err.Error()
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
