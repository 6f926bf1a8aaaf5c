package engine

import (
	"sync"

	"github.com/seantiz/kernelgate/internal/model"
)

// statusTracker latches the first completion reply of one submission.
// Until then it reports StatusError, so a submission that never completes
// can never be reported as a success.
type statusTracker struct {
	mu      sync.Mutex
	status  model.Status
	latched bool
	done    chan struct{}
}

func newStatusTracker() *statusTracker {
	return &statusTracker{
		status: model.StatusError,
		done:   make(chan struct{}),
	}
}

// observe latches ev if it is the first reply. Other events and later
// replies are ignored.
func (t *statusTracker) observe(ev model.Event) {
	r, ok := ev.(model.ReplyEvent)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latched {
		return
	}
	t.latched = true
	t.status = r.Status
	close(t.done)
}

// Done is closed once a reply has been latched.
func (t *statusTracker) Done() <-chan struct{} {
	return t.done
}

func (t *statusTracker) Status() model.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
