package interp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

// Compile-time interface satisfaction check.
var _ kernel.Runtime = (*Runtime)(nil)

// Runtime hosts interpreter kernels inside the server process.
type Runtime struct {
	logger *slog.Logger

	mu      sync.Mutex
	kernels map[string]*Kernel
}

// NewRuntime creates an in-process runtime.
func NewRuntime(logger *slog.Logger) *Runtime {
	return &Runtime{
		logger:  logger,
		kernels: make(map[string]*Kernel),
	}
}

// Start creates a fresh interpreter. The spec name is informational; every
// in-process kernel runs Go.
func (r *Runtime) Start(_ context.Context, spec string) (string, kernel.ConnectionInfo, error) {
	k, err := NewKernel()
	if err != nil {
		return "", kernel.ConnectionInfo{}, fmt.Errorf("create interpreter: %w", err)
	}
	id := model.NewID()

	r.mu.Lock()
	r.kernels[id] = k
	r.mu.Unlock()

	r.logger.Debug("interp kernel started", "kernel_id", id, "spec", spec)
	return id, kernel.ConnectionInfo{Transport: kernel.TransportInProc, Address: id}, nil
}

// OpenSession attaches to a kernel started by this runtime.
func (r *Runtime) OpenSession(_ context.Context, conn kernel.ConnectionInfo) (kernel.Session, error) {
	if conn.Transport != kernel.TransportInProc {
		return nil, fmt.Errorf("interp runtime cannot open %q transport", conn.Transport)
	}

	r.mu.Lock()
	k, ok := r.kernels[conn.Address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("interp kernel %s is not running", conn.Address)
	}
	return newSession(k, r.logger.With("kernel_id", conn.Address)), nil
}

// Terminate discards the kernel's interpreter.
func (r *Runtime) Terminate(_ context.Context, id string) error {
	r.mu.Lock()
	k, ok := r.kernels[id]
	delete(r.kernels, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("interp kernel %s is not running", id)
	}
	k.Close()
	return nil
}

// session feeds submissions to a Kernel on background goroutines and
// publishes the resulting events through a broker. Each submission runs
// under its own context so only Interrupt or Close can abort it.
type session struct {
	kernel *Kernel
	broker *kernel.Broker
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    chan struct{}
	err     error
}

func newSession(k *Kernel, logger *slog.Logger) *session {
	return &session{
		kernel:  k,
		broker:  kernel.NewBroker(),
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
		done:    make(chan struct{}),
	}
}

func (s *session) Subscribe(cellID string, h kernel.Handler) func() {
	return s.broker.Subscribe(cellID, h)
}

func (s *session) Submit(_ context.Context, cellID, code string) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return kernel.ErrSessionClosed
	}
	execCtx, cancel := context.WithCancel(context.Background())
	s.cancels[cellID] = cancel
	s.mu.Unlock()

	go func() {
		defer s.forget(cellID)
		s.kernel.Execute(execCtx, code, func(ev model.Event) {
			if !s.broker.Publish(cellID, ev) {
				s.logger.Debug("dropped event without subscriber", "cell_id", cellID, "kind", ev.Kind())
			}
		})
	}()
	return nil
}

func (s *session) Interrupt(_ context.Context, cellID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[cellID]
	s.mu.Unlock()
	if ok {
		s.logger.Debug("interrupting cell", "cell_id", cellID)
		cancel()
	}
	return nil
}

func (s *session) forget(cellID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[cellID]; ok {
		cancel()
		delete(s.cancels, cellID)
	}
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = kernel.ErrSessionClosed
		for _, cancel := range s.cancels {
			cancel()
		}
		close(s.done)
	}
	return nil
}
