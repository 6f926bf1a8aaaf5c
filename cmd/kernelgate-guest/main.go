// Command kernelgate-guest hosts one Go kernel and serves the kernel wire
// protocol on a unix socket or a vsock port. The gateway's process runtime
// spawns it; it can also run inside a VM and be reached over vsock.
//
// Build with: CGO_ENABLED=0 go build -o kernelgate-guest ./cmd/kernelgate-guest
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/spf13/cobra"

	"github.com/seantiz/kernelgate/internal/config"
	"github.com/seantiz/kernelgate/internal/guest"
	"github.com/seantiz/kernelgate/internal/kernel/interp"
)

var (
	listenAddr string
	specName   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "kernelgate-guest",
	Short:         "Serve one Go kernel over the kernel wire protocol",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, unix:/path/to.sock or vsock:<port>")
	rootCmd.Flags().StringVar(&specName, "spec", "go", "kernel spec name, reported in logs")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	_ = rootCmd.MarkFlagRequired("listen")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernelgate-guest:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := config.NewLogger(os.Stderr, config.ParseLogLevel(logLevel)).
		With("component", "guest", "spec", specName)

	l, err := listen(listenAddr)
	if err != nil {
		return err
	}

	k, err := interp.NewKernel()
	if err != nil {
		l.Close()
		return fmt.Errorf("create kernel: %w", err)
	}

	agent := guest.New(l, k, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		agent.Shutdown()
	}()

	logger.Info("guest listening", "addr", listenAddr)
	if err := agent.Serve(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("guest stopped")
	return nil
}

// listen parses addr and opens the matching listener.
func listen(addr string) (net.Listener, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("invalid listen address %q", addr)
	}
	switch scheme {
	case "unix":
		// A stale socket from a crashed guest would make Listen fail.
		if err := os.Remove(rest); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		l, err := net.Listen("unix", rest)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", rest, err)
		}
		return l, nil
	case "vsock":
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port %q: %w", rest, err)
		}
		l, err := vsock.Listen(uint32(port), nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported listen scheme %q", scheme)
	}
}
