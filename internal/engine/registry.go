package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

// DefaultTimeout bounds a submission when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Recorder persists finished executions. *store.SQLiteStore satisfies it.
type Recorder interface {
	InsertExecution(ctx context.Context, rec *model.ExecutionRecord) error
}

// Options tunes a Registry.
type Options struct {
	// Timeout bounds each submission, including the wait for the kernel
	// to become free. Zero means DefaultTimeout; negative means no bound
	// beyond the caller's context.
	Timeout time.Duration

	// Recorder, if set, receives one record per submitted cell.
	Recorder Recorder
}

// kernelEntry is the registry's handle on one live kernel. The semaphore
// admits one submission at a time.
type kernelEntry struct {
	info    model.KernelInfo
	runtime kernel.Runtime
	session kernel.Session
	sem     *semaphore.Weighted
}

// Registry owns the set of running kernels. It is safe for concurrent use.
type Registry struct {
	catalog   *kernel.Catalog
	formatter Formatter
	images    ImageExtractor
	logger    *slog.Logger
	timeout   time.Duration
	recorder  Recorder

	mu      sync.RWMutex
	kernels map[string]*kernelEntry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(catalog *kernel.Catalog, f Formatter, images ImageExtractor, logger *slog.Logger, opts Options) *Registry {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		catalog:   catalog,
		formatter: f,
		images:    images,
		logger:    logger,
		timeout:   timeout,
		recorder:  opts.Recorder,
		kernels:   make(map[string]*kernelEntry),
	}
}

// StartKernel starts a kernel for spec, opens a session against it and
// registers it. An empty spec selects the catalog default.
func (r *Registry) StartKernel(ctx context.Context, spec string) (string, error) {
	if r.isClosed() {
		return "", ErrClosed
	}

	rt, name, err := r.catalog.Resolve(spec)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	id, conn, err := rt.Start(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: start %s kernel: %w", ErrRuntime, name, err)
	}

	sess, err := rt.OpenSession(ctx, conn)
	if err != nil {
		if terr := rt.Terminate(context.WithoutCancel(ctx), id); terr != nil {
			r.logger.Error("terminate kernel after failed session", "kernel_id", id, "error", terr)
		}
		return "", fmt.Errorf("%w: open session for kernel %s: %w", ErrRuntime, id, err)
	}

	entry := &kernelEntry{
		info:    model.KernelInfo{ID: id, Spec: name, StartedAt: time.Now().UTC()},
		runtime: rt,
		session: sess,
		sem:     semaphore.NewWeighted(1),
	}

	r.mu.Lock()
	switch {
	case r.closed:
		err = ErrClosed
	case r.kernels[id] != nil:
		err = fmt.Errorf("%w: runtime reused live kernel id %s", ErrRuntime, id)
	default:
		r.kernels[id] = entry
	}
	r.mu.Unlock()

	if err != nil {
		r.discard(ctx, entry)
		return "", err
	}

	kernelsActive.Inc()
	r.logger.Info("kernel started", "kernel_id", id, "spec", name)
	return id, nil
}

// discard tears down a kernel that never made it into the map.
func (r *Registry) discard(ctx context.Context, e *kernelEntry) {
	ctx = context.WithoutCancel(ctx)
	if err := e.session.Close(); err != nil {
		r.logger.Error("close session", "kernel_id", e.info.ID, "error", err)
	}
	if err := e.runtime.Terminate(ctx, e.info.ID); err != nil {
		r.logger.Error("terminate kernel", "kernel_id", e.info.ID, "error", err)
	}
}

// RunCell executes code on a registered kernel and returns the aggregated
// result. A cell that raises is a successful call with Success false.
// Observers see every event of the submission as it arrives.
func (r *Registry) RunCell(ctx context.Context, kernelID, code string, observers ...kernel.Handler) (*model.ExecutionResult, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entry, ok := r.kernels[kernelID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKernelNotFound, kernelID)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		werr := waitError(ctx, "waiting for kernel "+kernelID)
		r.observe(nil, werr, 0)
		return nil, werr
	}

	x := &execution{
		kernelID:  kernelID,
		code:      code,
		session:   entry.session,
		formatter: r.formatter,
		images:    r.images,
		observers: observers,
		logger:    r.logger,
		release:   func() { entry.sem.Release(1) },
	}
	start := time.Now()
	res, err := x.run(ctx)
	elapsed := time.Since(start)

	r.observe(res, err, elapsed)
	r.record(ctx, x, res, err, elapsed)
	return res, err
}

// Execute runs req, starting a kernel with the default spec first when
// req.KernelID is empty. The result names the kernel that ran the code.
func (r *Registry) Execute(ctx context.Context, req model.ExecutionRequest, observers ...kernel.Handler) (*model.ExecutionResult, error) {
	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	kernelID := req.KernelID
	if kernelID == "" {
		id, err := r.StartKernel(ctx, "")
		if err != nil {
			return nil, err
		}
		kernelID = id
	}
	return r.RunCell(ctx, kernelID, req.Code, observers...)
}

// ListKernels returns the live kernels, oldest first.
func (r *Registry) ListKernels() []model.KernelInfo {
	r.mu.RLock()
	infos := make([]model.KernelInfo, 0, len(r.kernels))
	for _, e := range r.kernels {
		infos = append(infos, e.info)
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b model.KernelInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), strings.Compare(a.ID, b.ID))
	})
	return infos
}

// ShutdownAll closes every session and terminates every kernel. A failure
// on one kernel does not stop the others; all failures are returned
// joined. The registry refuses new kernels afterwards.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*kernelEntry, 0, len(r.kernels))
	for _, e := range r.kernels {
		entries = append(entries, e)
	}
	r.kernels = make(map[string]*kernelEntry)
	r.mu.Unlock()

	slices.SortFunc(entries, func(a, b *kernelEntry) int { return strings.Compare(a.info.ID, b.info.ID) })

	var errs []error
	for _, e := range entries {
		id := e.info.ID
		if err := e.session.Close(); err != nil {
			r.logger.Error("close kernel session", "kernel_id", id, "error", err)
			errs = append(errs, fmt.Errorf("close session for kernel %s: %w", id, err))
		}
		if err := e.runtime.Terminate(ctx, id); err != nil {
			r.logger.Error("terminate kernel", "kernel_id", id, "error", err)
			errs = append(errs, fmt.Errorf("terminate kernel %s: %w", id, err))
		}
		kernelsActive.Dec()
	}

	r.logger.Info("kernels shut down", "count", len(entries), "failures", len(errs))
	return errors.Join(errs...)
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) observe(res *model.ExecutionResult, err error, elapsed time.Duration) {
	switch {
	case errors.Is(err, ErrTimeout):
		cellExecutionsTotal.WithLabelValues(outcomeTimeout).Inc()
	case errors.Is(err, context.Canceled):
		cellExecutionsTotal.WithLabelValues(outcomeCancelled).Inc()
	case err != nil:
		cellExecutionsTotal.WithLabelValues(outcomeRuntimeError).Inc()
	case res.Success:
		cellExecutionsTotal.WithLabelValues(string(model.StatusOK)).Inc()
		cellExecutionDuration.Observe(elapsed.Seconds())
	default:
		cellExecutionsTotal.WithLabelValues(string(model.StatusError)).Inc()
		cellExecutionDuration.Observe(elapsed.Seconds())
	}
}

func (r *Registry) record(ctx context.Context, x *execution, res *model.ExecutionResult, err error, elapsed time.Duration) {
	if r.recorder == nil {
		return
	}
	rec := &model.ExecutionRecord{
		ID:         x.cellID,
		KernelID:   x.kernelID,
		Code:       x.code,
		DurationMS: int(elapsed.Milliseconds()),
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Success = res.Success
		rec.Error = res.ErrorMessage()
		rec.Stdout = res.Stdout
		rec.Stderr = res.Stderr
	}
	if err := r.recorder.InsertExecution(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Error("record execution", "cell_id", x.cellID, "error", err)
	}
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	return nil
}

// waitError classifies a context failure during a wait.
func waitError(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, what)
	}
	return fmt.Errorf("%s: %w", what, ctx.Err())
}
