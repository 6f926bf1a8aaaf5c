package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

// interruptTimeout bounds delivery of an interrupt request to the kernel.
const interruptTimeout = 5 * time.Second

// execution drives one submission: subscribe, submit, wait, finalize.
//
// release gives the kernel back to the next caller. It runs once the kernel
// has replied to this submission or its session has ended, which may be
// after run has returned a timeout.
type execution struct {
	kernelID  string
	code      string
	session   kernel.Session
	formatter Formatter
	images    ImageExtractor
	observers []kernel.Handler
	logger    *slog.Logger
	release   func()

	cellID string
}

func (x *execution) run(ctx context.Context) (*model.ExecutionResult, error) {
	x.cellID = model.NewCellID()
	logger := x.logger.With("kernel_id", x.kernelID, "cell_id", x.cellID)

	agg := newAggregator(logger)
	unsubscribe := x.session.Subscribe(x.cellID, func(ev model.Event) {
		agg.handle(ev)
		for _, o := range x.observers {
			o(ev)
		}
	})
	defer unsubscribe()

	// The status subscription comes second so the aggregator has seen every
	// event by the time the reply is latched.
	status := newStatusTracker()
	unwatch := x.session.Subscribe(x.cellID, status.observe)
	settled := true
	defer func() {
		if settled {
			unwatch()
			x.release()
		}
	}()

	logger.Debug("submitting cell")
	if err := x.session.Submit(ctx, x.cellID, x.code); err != nil {
		if ctx.Err() != nil {
			return nil, waitError(ctx, "submitting cell")
		}
		return nil, fmt.Errorf("%w: submit to kernel %s: %w", ErrRuntime, x.kernelID, err)
	}

	select {
	case <-status.Done():
	case <-x.session.Done():
		// The reply may have raced the session ending.
		select {
		case <-status.Done():
		default:
			return nil, fmt.Errorf("%w: kernel %s session ended: %w", ErrRuntime, x.kernelID, x.session.Err())
		}
	case <-ctx.Done():
		logger.Warn("cell did not complete, interrupting", "error", ctx.Err())
		unsubscribe()
		settled = false
		go x.drain(context.WithoutCancel(ctx), logger, status, unwatch)
		return nil, waitError(ctx, "waiting for reply from kernel "+x.kernelID)
	}

	st := status.Status()
	logger.Debug("cell finished", "status", st)
	return agg.finalize(x.kernelID, st, x.formatter, x.images), nil
}

// drain interrupts an abandoned submission and holds the kernel until the
// submission's reply arrives or the session ends. Output produced meanwhile
// is discarded.
func (x *execution) drain(ctx context.Context, logger *slog.Logger, status *statusTracker, unwatch func()) {
	defer x.release()
	defer unwatch()

	ictx, cancel := context.WithTimeout(ctx, interruptTimeout)
	err := x.session.Interrupt(ictx, x.cellID)
	cancel()
	if err != nil {
		logger.Warn("interrupt failed", "error", err)
	}

	select {
	case <-status.Done():
		logger.Debug("abandoned cell finished", "status", status.Status())
	case <-x.session.Done():
		logger.Debug("session ended before abandoned cell finished")
	}
}
