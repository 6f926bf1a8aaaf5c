package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/kernelgate/internal/api"
	"github.com/seantiz/kernelgate/internal/config"
	"github.com/seantiz/kernelgate/internal/display"
	"github.com/seantiz/kernelgate/internal/engine"
	"github.com/seantiz/kernelgate/internal/images"
	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/kernel/interp"
	"github.com/seantiz/kernelgate/internal/kernel/process"
	"github.com/seantiz/kernelgate/internal/store"
)

// Spec names served by the gateway.
const (
	specInProcess = "go"
	specProcess   = "go-process"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := cfg.EnsureConnectionDir(); err != nil {
		return err
	}

	logger.Info("kernelgate: starting",
		"listen_addr", cfg.ListenAddr,
		"domain", cfg.Domain,
		"default_kernel", cfg.DefaultKernel,
		"execution_timeout", cfg.ExecutionTimeout,
	)

	db, err := store.NewSQLiteStore(cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer db.Close()

	catalog := buildCatalog(cfg, logger)
	imgs := images.NewStore(cfg.Domain)
	registry := engine.NewRegistry(catalog, display.NewFormatter(), imgs, logger, engine.Options{
		Timeout:  cfg.ExecutionTimeout,
		Recorder: db,
	})

	srv := api.NewServer(cfg.ListenAddr, api.Deps{
		Registry: registry,
		Catalog:  catalog,
		Images:   imgs,
		Store:    db,
	}, cfg.CORSOrigins, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("kernelgate: stopped")
	return nil
}

// buildCatalog registers the in-process kernel, and the process kernel when
// the guest binary can be found.
func buildCatalog(cfg config.Config, logger *slog.Logger) *kernel.Catalog {
	catalog := kernel.NewCatalog(cfg.DefaultKernel)
	catalog.Register(specInProcess, interp.NewRuntime(logger))

	guestBin, err := exec.LookPath(cfg.GuestBin)
	if err != nil {
		logger.Warn("guest binary not found, process kernels disabled",
			"guest_bin", cfg.GuestBin, "error", err)
		return catalog
	}
	catalog.Register(specProcess, process.NewRuntime(process.Config{
		GuestBin:      guestBin,
		ConnectionDir: cfg.ConnectionDir,
	}, logger))
	return catalog
}

