// Package guest implements the kernel agent that runs out of process. It
// accepts framed connections from the server, evaluates execute requests on
// one persistent interpreter, and streams the resulting events back.
package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/seantiz/kernelgate/internal/display"
	"github.com/seantiz/kernelgate/internal/kernel/wire"
	"github.com/seantiz/kernelgate/internal/model"
)

// Executor evaluates code, reporting events through emit and ending with
// exactly one model.ReplyEvent. *interp.Kernel satisfies it.
type Executor interface {
	Execute(ctx context.Context, code string, emit func(model.Event))
	Close()
}

// Agent serves one kernel. Interpreter state is shared by every connection,
// so a reconnecting server sees the same variables.
type Agent struct {
	listener  net.Listener
	kernel    Executor
	formatter wire.ValueFormatter
	logger    *slog.Logger

	mu       sync.Mutex
	shutdown bool
	conns    map[net.Conn]struct{}
}

// New creates a guest agent serving k on listener.
func New(listener net.Listener, k Executor, logger *slog.Logger) *Agent {
	return &Agent{
		listener:  listener,
		kernel:    k,
		formatter: display.NewFormatter(),
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections and handles them. It blocks until the listener
// is closed or an unrecoverable error occurs. A listener closed by Shutdown
// is not an error.
func (a *Agent) Serve() error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.isShutdown() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go a.handleConnection(conn)
	}
}

// Shutdown stops accepting connections, drops the open ones and closes the
// kernel. It is safe to call more than once.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return
	}
	a.shutdown = true
	conns := a.conns
	a.conns = nil
	a.mu.Unlock()

	if a.listener != nil {
		a.listener.Close()
	}
	for c := range conns {
		c.Close()
	}
	a.kernel.Close()
}

func (a *Agent) isShutdown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown
}

func (a *Agent) track(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return false
	}
	a.conns[conn] = struct{}{}
	return true
}

func (a *Agent) untrack(conn net.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, conn)
}

// requestQueueSize bounds the execute requests waiting behind the running
// one on a connection.
const requestQueueSize = 64

// handleConnection reads requests from conn until it closes. Executions on
// one connection run in arrival order on a worker goroutine, so the reader
// stays free to act on interrupts.
func (a *Agent) handleConnection(conn net.Conn) {
	defer conn.Close()
	if !a.track(conn) {
		return
	}
	defer a.untrack(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cells := newCellContexts()
	queue := make(chan wire.Message, requestQueueSize)

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	wg.Go(func() {
		for req := range queue {
			a.execute(cells.context(req.CellID), conn, &writeMu, req)
			cells.finish(req.CellID)
		}
	})
	defer func() {
		cancel()
		conn.Close()
		close(queue)
		wg.Wait()
	}()

	for {
		var req wire.Message
		if err := wire.ReadMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				a.logger.Warn("read request", "error", err)
			}
			return
		}

		switch req.Type {
		case wire.TypeExecuteRequest:
			cells.start(ctx, req.CellID)
			select {
			case queue <- req:
			case <-ctx.Done():
				return
			}
		case wire.TypeInterruptRequest:
			if cells.interrupt(req.CellID) {
				a.logger.Info("interrupt requested", "cell_id", req.CellID)
			} else {
				a.logger.Debug("interrupt for finished cell", "cell_id", req.CellID)
			}
		case wire.TypeShutdownRequest:
			a.logger.Info("shutdown requested")
			cancel()
			a.Shutdown()
			return
		default:
			a.logger.Warn("ignoring unknown request", "type", req.Type)
		}
	}
}

// cellContexts tracks the cancellable context of every queued or running
// execution on one connection.
type cellContexts struct {
	mu    sync.Mutex
	cells map[string]cellContext
}

type cellContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newCellContexts() *cellContexts {
	return &cellContexts{cells: make(map[string]cellContext)}
}

func (c *cellContexts) start(parent context.Context, cellID string) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.cells[cellID]; ok {
		prev.cancel()
	}
	c.cells[cellID] = cellContext{ctx: ctx, cancel: cancel}
}

// context returns the context for cellID. An unknown cell gets a cancelled
// one.
func (c *cellContexts) context(cellID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.cells[cellID]; ok {
		return cc.ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// interrupt cancels cellID and reports whether it was still pending.
func (c *cellContexts) interrupt(cellID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.cells[cellID]
	if ok {
		cc.cancel()
	}
	return ok
}

func (c *cellContexts) finish(cellID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.cells[cellID]; ok {
		cc.cancel()
		delete(c.cells, cellID)
	}
}

// execute runs one request, sending every event back tagged with its cell id.
func (a *Agent) execute(ctx context.Context, conn net.Conn, mu *sync.Mutex, req wire.Message) {
	a.logger.Debug("execute request", "cell_id", req.CellID)
	a.kernel.Execute(ctx, req.Code, func(ev model.Event) {
		msg, ok := wire.FromEvent(req.CellID, ev, a.formatter)
		if !ok {
			return
		}
		mu.Lock()
		err := wire.WriteMessage(conn, &msg)
		mu.Unlock()
		if err != nil {
			a.logger.Warn("write event", "cell_id", req.CellID, "error", err)
		}
	})
}
