// Package cmd implements the CLI driver that sits outside the core: thin
// subcommands that wire an appctx.AppContext, call into the core library,
// and render the result in the requested OutputFormat. No subcommand here
// computes anything the core doesn't already expose.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/config"
)

var (
	rootDir    string
	outputFlag string
	robotFlag  bool
)

// defaultLockTimeout bounds how long a write command polls for the
// workspace lock before reporting it held.
const defaultLockTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:           "ms",
	Short:         "Local skill knowledge base: store, resolve, search, and sync procedural skills",
	Long:          `ms indexes skills from layered filesystem sources, serves them back under disclosure budgets, ranks them against the current working context, and synchronizes them with peer machines.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return reportError(os.Stderr, err, exitCodeFor(err))
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root (default: $MS_ROOT or ~/.ms)")
	rootCmd.PersistentFlags().StringVar(&outputFlag, "output", "", "output format: human, json, jsonl, plain, tsv")
	rootCmd.PersistentFlags().BoolVar(&robotFlag, "robot", false, "force a JSON envelope for machine consumption")
}

// loadConfig reads the workspace configuration honoring the --root and
// --output flags on top of the usual file/env precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if outputFlag != "" {
		cfg.Output = config.OutputFormat(outputFlag)
	}
	if robotFlag {
		cfg.Output = config.OutputJSON
	}
	return cfg, nil
}

func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}
