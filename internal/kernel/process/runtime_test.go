package process

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/seantiz/kernelgate/internal/guest"
	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/kernel/interp"
	"github.com/seantiz/kernelgate/internal/model"
)

const helperEnv = "KERNELGATE_TEST_GUEST"

// TestMain lets the test binary double as a guest agent when re-executed
// by the runtime under test.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperGuest(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelperGuest(args []string) int {
	var listen string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--listen" {
			listen = args[i+1]
		}
	}
	ln, err := net.Listen("unix", strings.TrimPrefix(listen, "unix:"))
	if err != nil {
		return 1
	}
	k, err := interp.NewKernel()
	if err != nil {
		return 1
	}
	agent := guest.New(ln, k, slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	go func() {
		<-sigs
		agent.Shutdown()
	}()

	if err := agent.Serve(); err != nil {
		return 1
	}
	return 0
}

func TestRuntimeEndToEnd(t *testing.T) {
	t.Setenv(helperEnv, "1")

	// Short base path keeps the socket under the unix path length limit.
	dir, err := os.MkdirTemp("", "kg")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	rt := NewRuntime(Config{GuestBin: os.Args[0], ConnectionDir: dir, StopTimeout: 5 * time.Second}, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, info, err := rt.Start(ctx, "go-process")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Transport != kernel.TransportUnix {
		t.Errorf("Transport = %q, want unix", info.Transport)
	}

	doc, err := ReadConnectionFile(filepath.Join(dir, "kernel-"+id+".json"))
	if err != nil {
		t.Fatalf("ReadConnectionFile: %v", err)
	}
	if doc.KernelID != id || doc.Spec != "go-process" || doc.Conn.Address != info.Address {
		t.Errorf("connection file = %+v", doc)
	}

	sess, err := rt.OpenSession(ctx, info)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	cellID := model.NewCellID()
	reply := make(chan model.Status, 1)
	var result model.DisplayBundle
	unsub := sess.Subscribe(cellID, func(ev model.Event) {
		switch e := ev.(type) {
		case model.ResultEvent:
			result, _ = e.Value.(model.DisplayBundle)
		case model.ReplyEvent:
			reply <- e.Status
		}
	})
	defer unsub()

	if err := sess.Submit(ctx, cellID, "6*7"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case st := <-reply:
		if st != model.StatusOK {
			t.Errorf("status = %q, want ok", st)
		}
	case <-ctx.Done():
		t.Fatal("no reply from guest")
	}
	if result.Data[model.MIMETextPlain] != "42" {
		t.Errorf("text/plain = %v, want 42", result.Data[model.MIMETextPlain])
	}

	sess.Close()
	if err := rt.Terminate(ctx, id); err != nil {
		t.Errorf("Terminate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "kernel-"+id+".json")); !os.IsNotExist(err) {
		t.Errorf("connection file still present after Terminate: %v", err)
	}
}

func TestRuntimeStartMissingBinary(t *testing.T) {
	rt := NewRuntime(Config{GuestBin: filepath.Join(t.TempDir(), "nope"), ConnectionDir: t.TempDir()}, discardLogger())
	if _, _, err := rt.Start(context.Background(), "go"); err == nil {
		t.Error("expected error for missing guest binary")
	}
}

func TestRuntimeTerminateUnknown(t *testing.T) {
	rt := NewRuntime(Config{GuestBin: "x", ConnectionDir: t.TempDir()}, discardLogger())
	if err := rt.Terminate(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown kernel")
	}
}
