package kernel

import (
	"context"
	"errors"

	"github.com/seantiz/kernelgate/internal/model"
)

// ErrSessionClosed is returned when submitting to a session that has ended.
var ErrSessionClosed = errors.New("kernel session closed")

// Transport names for ConnectionInfo.
const (
	TransportInProc = "inproc"
	TransportUnix   = "unix"
	TransportVsock  = "vsock"
)

// ConnectionInfo describes how to reach a started kernel.
type ConnectionInfo struct {
	Transport string `json:"transport"`
	Address   string `json:"address,omitempty"`
	CID       uint32 `json:"cid,omitempty"`
	Port      uint32 `json:"port,omitempty"`
}

// Handler receives the events of one submission in emission order.
type Handler func(model.Event)

// Runtime starts and terminates kernels and opens sessions against them.
type Runtime interface {
	// Start launches a kernel for the given spec name and returns its id
	// and connection descriptor.
	Start(ctx context.Context, spec string) (string, ConnectionInfo, error)

	// OpenSession connects to a started kernel.
	OpenSession(ctx context.Context, conn ConnectionInfo) (Session, error)

	// Terminate stops the kernel process.
	Terminate(ctx context.Context, id string) error
}

// Session is a protocol connection to one kernel.
type Session interface {
	// Subscribe registers h for events tagged with cellID. The returned
	// function removes the subscription.
	Subscribe(cellID string, h Handler) (unsubscribe func())

	// Submit sends code for execution under cellID. It returns once the
	// kernel has accepted the submission; events arrive asynchronously and
	// end with exactly one model.ReplyEvent. ctx bounds the hand-off only,
	// not the execution.
	Submit(ctx context.Context, cellID, code string) error

	// Interrupt asks the kernel to abort the submission running under
	// cellID. The kernel still ends that submission with a reply, normally
	// with model.StatusAborted. Interrupting a finished cell is a no-op.
	Interrupt(ctx context.Context, cellID string) error

	// Done is closed when the session ends, either by Close or because the
	// connection broke.
	Done() <-chan struct{}

	// Err reports why the session ended. It returns nil while Done is open.
	Err() error

	// Close ends the session. The kernel keeps running.
	Close() error
}
