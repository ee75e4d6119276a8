package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshuapare/regionkit/internal/admin"
	"github.com/joshuapare/regionkit/internal/workload"
)

var (
	serveAddr   string
	serveWarmup bool
)

func init() {
	cmd := newServeCmd()
	addWorkloadFlags(cmd)
	cmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:9340", "Listen address")
	cmd.Flags().BoolVar(&serveWarmup, "warmup", true, "Run the workload before serving")
	rootCmd.AddCommand(cmd)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the compaction switches over HTTP",
		Long: `The serve command builds a machine, optionally populates it with a
workload, and serves the administrative endpoints until interrupted:

  GET      /compact/vm     last written address-space mask
  PUT      /compact/vm     write a mask and compact the selected banks
  GET/PUT  /compact/file   the same for file-cache banks
  GET      /banks          per-bank free frames and extents
  GET      /verify         run the invariant checks
  GET      /metrics        Prometheus metrics

Example:
  regionctl serve --addr :9340
  curl -X PUT -d 3 localhost:9340/compact/vm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, logger, closeLog, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, m.Close(), closeLog()) }()

	if serveWarmup {
		rep, err := workload.Run(ctx, m, simOpts)
		if err != nil {
			return err
		}
		printVerbose("Warmup: %d faults, %d releases, %d resident\n", rep.Faults, rep.Releases, rep.Resident)
	}
	printInfo("Serving on %s\n", serveAddr)
	return admin.New(m, logger).Serve(ctx, serveAddr)
}

