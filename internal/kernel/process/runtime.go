// Package process runs kernels as separate guest processes and talks to
// them over the framed protocol in package wire.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

// Compile-time interface satisfaction check.
var _ kernel.Runtime = (*Runtime)(nil)

const defaultStopTimeout = 5 * time.Second

// Config holds configuration for the process runtime.
type Config struct {
	// GuestBin is the guest agent executable.
	GuestBin string

	// ConnectionDir holds each kernel's socket and connection file.
	ConnectionDir string

	// StopTimeout bounds how long Terminate waits after SIGTERM before
	// killing the process. Zero means five seconds.
	StopTimeout time.Duration
}

// ConnectionFile is the JSON document written next to each kernel socket.
type ConnectionFile struct {
	KernelID  string                `json:"kernel_id"`
	Spec      string                `json:"spec"`
	PID       int                   `json:"pid"`
	Conn      kernel.ConnectionInfo `json:"connection"`
	StartedAt time.Time             `json:"started_at"`
}

type guestProc struct {
	cmd      *exec.Cmd
	exited   chan struct{}
	socket   string
	connFile string
}

// Runtime spawns one guest agent process per kernel.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*guestProc
}

// NewRuntime creates a process runtime. The connection directory must exist.
func NewRuntime(cfg Config, logger *slog.Logger) *Runtime {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		procs:  make(map[string]*guestProc),
	}
}

// Start spawns a guest listening on a fresh unix socket and records its
// connection file.
func (r *Runtime) Start(_ context.Context, spec string) (string, kernel.ConnectionInfo, error) {
	id := model.NewID()
	socket := filepath.Join(r.cfg.ConnectionDir, "kernel-"+id+".sock")
	connFile := filepath.Join(r.cfg.ConnectionDir, "kernel-"+id+".json")
	info := kernel.ConnectionInfo{Transport: kernel.TransportUnix, Address: socket}

	// Not tied to the caller's context: the kernel outlives the request
	// that started it.
	cmd := exec.Command(r.cfg.GuestBin, "--listen", "unix:"+socket, "--spec", spec)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", kernel.ConnectionInfo{}, fmt.Errorf("spawn guest %s: %w", r.cfg.GuestBin, err)
	}

	p := &guestProc{cmd: cmd, exited: make(chan struct{}), socket: socket, connFile: connFile}
	go func() {
		err := cmd.Wait()
		r.logger.Debug("guest process exited", "kernel_id", id, "error", err)
		close(p.exited)
	}()

	doc := ConnectionFile{
		KernelID:  id,
		Spec:      spec,
		PID:       cmd.Process.Pid,
		Conn:      info,
		StartedAt: time.Now().UTC(),
	}
	if err := writeConnectionFile(connFile, doc); err != nil {
		cmd.Process.Kill()
		<-p.exited
		return "", kernel.ConnectionInfo{}, err
	}

	r.mu.Lock()
	r.procs[id] = p
	r.mu.Unlock()
	activeGuests.Inc()

	r.logger.Info("guest process started", "kernel_id", id, "spec", spec, "pid", cmd.Process.Pid)
	return id, info, nil
}

func writeConnectionFile(path string, doc ConnectionFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connection file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write connection file: %w", err)
	}
	return nil
}

// ReadConnectionFile loads a connection file written by Start.
func ReadConnectionFile(path string) (ConnectionFile, error) {
	var doc ConnectionFile
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read connection file: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse connection file %s: %w", path, err)
	}
	return doc, nil
}

// OpenSession dials the guest, retrying while it comes up.
func (r *Runtime) OpenSession(ctx context.Context, info kernel.ConnectionInfo) (kernel.Session, error) {
	start := time.Now()
	conn, err := dialGuest(ctx, info)
	if err != nil {
		return nil, err
	}
	guestStartDuration.Observe(time.Since(start).Seconds())
	return NewSession(conn, r.logger.With("address", info.Address)), nil
}

// Terminate asks the guest to exit with SIGTERM, kills it if it has not
// exited within the stop timeout, and removes its files.
func (r *Runtime) Terminate(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("guest process for kernel %s is not running", id)
	}

	start := time.Now()
	defer func() {
		guestStopDuration.Observe(time.Since(start).Seconds())
		activeGuests.Dec()
	}()

	var errs []error
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("signal guest: %w", err))
	}

	timer := time.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
	case <-timer.C:
		r.logger.Warn("guest did not stop in time, killing", "kernel_id", id)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill guest: %w", err))
		}
		<-p.exited
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-p.exited
		errs = append(errs, fmt.Errorf("terminate guest: %w", ctx.Err()))
	}

	for _, f := range []string{p.socket, p.connFile} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}
