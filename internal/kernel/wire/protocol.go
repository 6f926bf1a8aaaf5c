// Package wire defines the framed JSON protocol spoken between the server
// and an out-of-process kernel.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/kernelgate/internal/model"
)

// MaxMessageSize is the maximum allowed message payload (16 MiB).
const MaxMessageSize = 16 << 20

// Message types. Requests flow from server to kernel; everything else flows
// back, tagged with the cell id of the request that caused it.
const (
	TypeExecuteRequest   = "execute_request"
	TypeInterruptRequest = "interrupt_request"
	TypeShutdownRequest  = "shutdown_request"
	TypeStream           = string(model.KindStream)
	TypeResult           = string(model.KindResult)
	TypeDisplay          = string(model.KindDisplay)
	TypeError            = string(model.KindError)
	TypeReply            = string(model.KindReply)
)

// Message is the envelope for every frame.
type Message struct {
	Type   string `json:"type"`
	CellID string `json:"cell_id,omitempty"`

	// execute_request
	Code string `json:"code,omitempty"`

	// stream
	Channel string `json:"name,omitempty"`
	Text    string `json:"text,omitempty"`

	// execute_result, display_data
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// error
	EName  string `json:"ename,omitempty"`
	EValue string `json:"evalue,omitempty"`

	// execute_reply
	Status string `json:"status,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// A single write keeps frames intact when callers share w under a mutex.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
