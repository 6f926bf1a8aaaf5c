// Command kernelgate serves the kernel gateway HTTP API and runs one-shot
// cells from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "kernelgate",
	Short:         "Run code on stateful kernels over HTTP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, execCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernelgate:", err)
		os.Exit(1)
	}
}
