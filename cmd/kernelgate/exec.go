package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/kernelgate/internal/config"
	"github.com/seantiz/kernelgate/internal/display"
	"github.com/seantiz/kernelgate/internal/engine"
	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/kernel/interp"
	"github.com/seantiz/kernelgate/internal/model"
)

var execTimeout time.Duration

var execCmd = &cobra.Command{
	Use:   "exec [code]",
	Short: "Run one cell on a fresh in-process kernel and print the result",
	Long: `Runs code on a fresh in-process Go kernel and prints the aggregated
execution result as JSON. Without an argument, or with "-", the code is
read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().DurationVar(&execTimeout, "timeout", engine.DefaultTimeout, "execution timeout")
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readCode(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	logger := config.NewLogger(os.Stderr, slog.LevelWarn)
	catalog := kernel.NewCatalog(specInProcess)
	catalog.Register(specInProcess, interp.NewRuntime(logger))

	// Images stay inline as base64 since nothing serves them.
	registry := engine.NewRegistry(catalog, display.NewFormatter(), nil, logger, engine.Options{Timeout: execTimeout})

	ctx := cmd.Context()
	defer registry.ShutdownAll(ctx)

	res, err := registry.Execute(ctx, model.ExecutionRequest{Code: code})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("cell failed: %s", res.ErrorMessage())
	}
	return nil
}

func readCode(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read code from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
