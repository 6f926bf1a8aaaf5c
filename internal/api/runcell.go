package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/kernelgate/internal/model"
)

const runCellParseFailure = "code is required: send a JSON body like {\"kernel_id\": \"<id from POST /api/kernels>\", \"code\": \"1+1\"}"

// streamChunk is the data of an SSE "stream" event.
type streamChunk struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// handleRunCell runs one cell. Clients that accept text/event-stream get
// stream chunks as they happen followed by a "result" event; everyone
// else gets the ExecutionResult as JSON.
func (s *Server) handleRunCell(w http.ResponseWriter, r *http.Request) {
	var req model.ExecutionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.writeError(w, http.StatusBadRequest, runCellParseFailure)
		return
	}

	// The registry bounds the execution; the server-wide write timeout
	// must not cut it short.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamRunCell(w, r, rc, req)
		return
	}

	res, err := s.registry.Execute(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, "run cell", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) streamRunCell(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, req model.ExecutionRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	// Events arrive on the kernel's reader goroutine. Once the handler
	// starts writing the final event nothing else may touch w.
	var mu sync.Mutex
	finished := false
	send := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("marshal SSE event", "event", event, "error", err)
			return
		}
		if err := writeSSEEvent(w, event, string(data)); err != nil {
			return
		}
		rc.Flush()
	}

	observer := func(ev model.Event) {
		chunk, ok := ev.(model.StreamEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		send("stream", streamChunk{Name: string(chunk.Channel), Text: chunk.Text})
	}

	res, err := s.registry.Execute(r.Context(), req, observer)

	mu.Lock()
	defer mu.Unlock()
	finished = true
	if err != nil {
		status, msg := engineErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("run cell", "error", err)
		}
		send("error", map[string]any{"error": msg, "status": status})
		sseStreamsTotal.WithLabelValues("error").Inc()
		return
	}
	send("result", res)
	sseStreamsTotal.WithLabelValues("result").Inc()
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}
