package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// scriptedEvents plays the part of a small interactive kernel.
func scriptedEvents(code string) []model.Event {
	switch code {
	case "1+1":
		return []model.Event{model.ResultEvent{Value: 2}, model.ReplyEvent{Status: model.StatusOK}}
	case "1":
		return []model.Event{model.ResultEvent{Value: 1}, model.ReplyEvent{Status: model.StatusOK}}
	case "print('hi')":
		return []model.Event{model.StreamEvent{Channel: model.Stdout, Text: "hi\n"}, model.ReplyEvent{Status: model.StatusOK}}
	case "raise ValueError('x')":
		return []model.Event{
			model.StreamEvent{Channel: model.Stderr, Text: "Traceback...\n"},
			model.ErrorEvent{Name: "ValueError", Message: "x"},
			model.ReplyEvent{Status: model.StatusError},
		}
	case "show()":
		return []model.Event{
			model.DisplayEvent{Bundle: model.NewDisplayBundle(map[string]any{
				model.MIMEPNG:       "iVBORw0KGgo=",
				model.MIMETextPlain: "<Figure>",
			}, nil)},
			model.ReplyEvent{Status: model.StatusOK},
		}
	case "hang":
		return nil
	default:
		return []model.Event{model.ReplyEvent{Status: model.StatusOK}}
	}
}

type fakeRuntime struct {
	mu           sync.Mutex
	next         int
	startErr     error
	openErr      error
	closeErr     map[string]error
	terminateErr map[string]error
	terminated   []string
	sessions     map[string]*fakeSession
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		closeErr:     make(map[string]error),
		terminateErr: make(map[string]error),
		sessions:     make(map[string]*fakeSession),
	}
}

func (f *fakeRuntime) Start(_ context.Context, _ string) (string, kernel.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", kernel.ConnectionInfo{}, f.startErr
	}
	f.next++
	id := fmt.Sprintf("K%d", f.next)
	return id, kernel.ConnectionInfo{Transport: kernel.TransportInProc, Address: id}, nil
}

func (f *fakeRuntime) OpenSession(_ context.Context, conn kernel.ConnectionInfo) (kernel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeSession{
		broker:   kernel.NewBroker(),
		done:     make(chan struct{}),
		closeErr: f.closeErr[conn.Address],
	}
	f.sessions[conn.Address] = s
	return s, nil
}

func (f *fakeRuntime) Terminate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, id)
	return f.terminateErr[id]
}

func (f *fakeRuntime) session(id string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeRuntime) terminatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

// fakeSession replies synchronously from inside Submit. A "hang" cell stays
// pending until it is interrupted, unless the session is wedged.
type fakeSession struct {
	broker   *kernel.Broker
	closeErr error

	inflight atomic.Int32
	overlap  atomic.Bool
	wedged   atomic.Bool
	delay    time.Duration

	mu         sync.Mutex
	lastCell   string
	pending    map[string]bool
	interrupts []string
	done       chan struct{}
	err        error
}

func (s *fakeSession) Subscribe(cellID string, h kernel.Handler) func() {
	return s.broker.Subscribe(cellID, h)
}

func (s *fakeSession) Submit(_ context.Context, cellID, code string) error {
	select {
	case <-s.done:
		return kernel.ErrSessionClosed
	default:
	}

	if s.inflight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inflight.Add(-1)

	s.mu.Lock()
	s.lastCell = cellID
	if len(s.pending) > 0 {
		s.overlap.Store(true)
	}
	if code == "hang" {
		if s.pending == nil {
			s.pending = make(map[string]bool)
		}
		s.pending[cellID] = true
	}
	s.mu.Unlock()

	if code == "crash" {
		s.end(errors.New("connection reset by peer"))
		return nil
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	for _, ev := range scriptedEvents(code) {
		s.broker.Publish(cellID, ev)
	}
	return nil
}

func (s *fakeSession) Interrupt(_ context.Context, cellID string) error {
	s.mu.Lock()
	s.interrupts = append(s.interrupts, cellID)
	pending := s.pending[cellID] && !s.wedged.Load()
	if pending {
		delete(s.pending, cellID)
	}
	s.mu.Unlock()

	if pending {
		s.broker.Publish(cellID, model.StreamEvent{Channel: model.Stdout, Text: "late\n"})
		s.broker.Publish(cellID, model.ErrorEvent{Name: "Interrupted", Message: "interrupted"})
		s.broker.Publish(cellID, model.ReplyEvent{Status: model.StatusAborted})
	}
	return nil
}

func (s *fakeSession) interrupted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.interrupts...)
}

func (s *fakeSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.done)
	}
}

func (s *fakeSession) lastCellID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCell
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.end(kernel.ErrSessionClosed)
	return s.closeErr
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []*model.ExecutionRecord
}

func (r *fakeRecorder) InsertExecution(_ context.Context, rec *model.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeRecorder) records() []*model.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ExecutionRecord(nil), r.recs...)
}
