package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/regionkit/internal/config"
	"github.com/joshuapare/regionkit/internal/logging"
	"github.com/joshuapare/regionkit/internal/machine"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:   "regionctl",
	Short: "Drive a simulated region page allocator",
	Long: `regionctl builds a simulated physical memory, groups owner pages into
regions carved from a buddy allocator, and runs compaction passes that reclaim
whole regions and report the free extents of each bank.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Machine configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write logs to a dated file in this directory")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the defaults, or the file named by --config over them.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newMachine builds a machine and its logger from the effective configuration.
// Logging is enabled by --verbose or --log-dir.
func newMachine(cfg config.Config) (*machine.Machine, *slog.Logger, func() error, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Enabled: verbose || logDir != "",
		Level:   level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
		LogDir:  logDir,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := machine.New(cfg, logger)
	if err != nil {
		_ = closeLog()
		return nil, nil, nil, err
	}
	return m, logger, closeLog, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
