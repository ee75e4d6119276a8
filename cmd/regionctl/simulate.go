package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/regionkit/internal/config"
	"github.com/joshuapare/regionkit/internal/machine"
	"github.com/joshuapare/regionkit/internal/workload"
	"github.com/joshuapare/regionkit/mm/compact"
	"github.com/joshuapare/regionkit/mm/region"
)

var (
	simOpts   = workload.DefaultOptions()
	simVM     uint
	simFile   uint
	simVerify bool
)

func init() {
	cmd := newSimulateCmd()
	addWorkloadFlags(cmd)
	cmd.Flags().UintVar(&simVM, "vm", 0, "Compact address-space banks of these classes after the run (1=normal 2=high 3=all)")
	cmd.Flags().UintVar(&simFile, "file", 0, "Compact file-cache banks of these classes after the run")
	cmd.Flags().BoolVar(&simVerify, "verify", false, "Check every allocator invariant after the run")
	rootCmd.AddCommand(cmd)
}

func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&simOpts.Seed, "seed", simOpts.Seed, "Random seed")
	cmd.Flags().IntVar(&simOpts.Steps, "steps", simOpts.Steps, "Number of workload steps")
	cmd.Flags().IntVar(&simOpts.AddressSpaces, "spaces", simOpts.AddressSpaces, "Number of address spaces")
	cmd.Flags().IntVar(&simOpts.Files, "files", simOpts.Files, "Number of file caches")
	cmd.Flags().Uint64Var(&simOpts.Pages, "pages", simOpts.Pages, "Distinct pages per owner")
	cmd.Flags().Float64Var(&simOpts.ReleaseRatio, "release-ratio", simOpts.ReleaseRatio, "Chance a step releases a page")
	cmd.Flags().Float64Var(&simOpts.PinRatio, "pin-ratio", simOpts.PinRatio, "Chance a fault pins its page")
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a workload and optionally compact",
		Long: `The simulate command builds a machine, drives a random mix of page faults,
releases and pins through address spaces and file caches, then optionally runs
compaction over the selected bank classes.

The compaction masks default to the compaction section of the configuration.

Example:
  regionctl simulate
  regionctl simulate --steps 100000 --vm 3 --file 1 --verify
  regionctl simulate --config machine.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("vm") {
				cfg.Compaction.VM = simVM
			}
			if cmd.Flags().Changed("file") {
				cfg.Compaction.File = simFile
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runSimulate(ctx, cfg)
		},
	}
}

// SimulateResult is the JSON form of a simulate run.
type SimulateResult struct {
	Workload   workload.Report    `json:"workload"`
	Compaction []compact.Result   `json:"compaction"`
	Regions    region.Stats       `json:"regions"`
	Banks      []machine.BankInfo `json:"banks"`
	Verified   bool               `json:"verified"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
}

func runSimulate(ctx context.Context, cfg config.Config) (err error) {
	if err := cfg.Compaction.Validate(); err != nil {
		return err
	}
	m, _, closeLog, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, m.Close(), closeLog()) }()

	start := time.Now()
	printVerbose("Running %d steps over %d address spaces and %d files\n",
		simOpts.Steps, simOpts.AddressSpaces, simOpts.Files)
	rep, err := workload.Run(ctx, m, simOpts)
	if err != nil {
		return err
	}

	res := SimulateResult{Workload: rep}
	if cfg.Compaction.VM != 0 {
		r, err := m.Control.WriteVM(cfg.Compaction.VM)
		if err != nil {
			return err
		}
		res.Compaction = append(res.Compaction, r...)
	}
	if cfg.Compaction.File != 0 {
		r, err := m.Control.WriteFile(cfg.Compaction.File)
		if err != nil {
			return err
		}
		res.Compaction = append(res.Compaction, r...)
	}
	if simVerify {
		if err := m.Verify(); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		res.Verified = true
	}
	res.Regions = m.Stats()
	res.Banks = m.Snapshot()
	res.Elapsed = time.Since(start)

	if jsonOut {
		return printJSON(res)
	}
	printSimulate(cfg, res)
	return nil
}

func printSimulate(cfg config.Config, res SimulateResult) {
	page := uint64(cfg.Machine.PageSize)
	w := res.Workload
	printInfo("Workload\n")
	printInfo("  Steps:     %s\n", humanize.Comma(int64(w.Steps)))
	printInfo("  Faults:    %s\n", humanize.Comma(int64(w.Faults)))
	printInfo("  Releases:  %s\n", humanize.Comma(int64(w.Releases)))
	printInfo("  Pins:      %s\n", humanize.Comma(int64(w.Pins)))
	printInfo("  OOM:       %s\n", humanize.Comma(int64(w.OOM)))
	printInfo("  Resident:  %s pages\n", humanize.Comma(int64(w.Resident)))

	s := res.Regions
	p := message.NewPrinter(language.English)
	printInfo("\nRegions\n")
	printInfo("%s", p.Sprintf("  Created:   %d\n", s.RegionsCreated))
	printInfo("%s", p.Sprintf("  Destroyed: %d\n", s.RegionsDestroyed))
	printInfo("%s", p.Sprintf("  Fast path: %d\n", s.FastPathHits))
	printInfo("%s", p.Sprintf("  Scan hits: %d\n", s.ScanHits))
	printInfo("%s", p.Sprintf("  Fallbacks: %d\n", s.Fallbacks))
	printInfo("%s", p.Sprintf("  Reclaimed: %d frames\n", s.FramesReclaimed))

	if len(res.Compaction) > 0 {
		printInfo("\nCompaction\n")
		for _, r := range res.Compaction {
			printInfo("  %s\n", r)
			printVerbose("    %v in %s\n", r.Extents, r.Duration)
		}
	}

	printInfo("\nBanks\n")
	for _, b := range res.Banks {
		line := fmt.Sprintf("  %-12s %-4s %-6s %s/%s frames free",
			b.Name, b.Kind, b.Class, humanize.Comma(int64(b.FreeFrames)), humanize.Comma(int64(b.Frames)))
		if page > 0 {
			line += fmt.Sprintf(" (%s)", humanize.IBytes(b.FreeFrames*page))
		}
		printInfo("%s, %d extents\n", line, len(b.Extents))
	}
	if res.Verified {
		printInfo("\nAll invariants hold\n")
	}
	printVerbose("\nElapsed: %s\n", res.Elapsed)
}
