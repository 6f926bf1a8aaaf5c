package process

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/kernel/wire"
	"github.com/seantiz/kernelgate/internal/model"
)

// session multiplexes submissions over one framed connection. A single
// reader goroutine publishes every incoming event to the broker under the
// cell id it carries.
type session struct {
	conn   net.Conn
	broker *kernel.Broker
	logger *slog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// NewSession wraps an established connection to a guest agent.
func NewSession(conn net.Conn, logger *slog.Logger) kernel.Session {
	s := &session{
		conn:   conn,
		broker: kernel.NewBroker(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	for {
		var m wire.Message
		if err := wire.ReadMessage(s.conn, &m); err != nil {
			s.fail(fmt.Errorf("kernel connection lost: %w", err))
			return
		}

		ev := wire.ToEvent(m)
		if _, ok := ev.(model.UnknownEvent); ok {
			s.logger.Debug("ignoring unknown message", "type", m.Type, "cell_id", m.CellID)
			continue
		}
		if !s.broker.Publish(m.CellID, ev) {
			s.logger.Debug("dropped event without subscriber", "cell_id", m.CellID, "kind", ev.Kind())
		}
	}
}

// fail records the first reason the session ended.
func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.done)
	}
}

func (s *session) Subscribe(cellID string, h kernel.Handler) func() {
	return s.broker.Subscribe(cellID, h)
}

func (s *session) Submit(ctx context.Context, cellID, code string) error {
	msg := wire.Message{Type: wire.TypeExecuteRequest, CellID: cellID, Code: code}
	if err := s.send(ctx, &msg); err != nil {
		return fmt.Errorf("send execute request: %w", err)
	}
	return nil
}

func (s *session) Interrupt(ctx context.Context, cellID string) error {
	msg := wire.Message{Type: wire.TypeInterruptRequest, CellID: cellID}
	if err := s.send(ctx, &msg); err != nil {
		return fmt.Errorf("send interrupt request: %w", err)
	}
	return nil
}

// send writes one request frame, bounded by ctx's deadline.
func (s *session) send(ctx context.Context, msg *wire.Message) error {
	select {
	case <-s.done:
		return kernel.ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return wire.WriteMessage(s.conn, msg)
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.fail(kernel.ErrSessionClosed)
	return s.conn.Close()
}
