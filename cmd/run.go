package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/download"
	"github.com/nicferr/anacsync/internal/history"
	"github.com/nicferr/anacsync/internal/output"
	"github.com/nicferr/anacsync/internal/planner"
	"github.com/nicferr/anacsync/internal/runner"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/sorter"
)

var (
	planFile string
	dryRun   bool
	noSort   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the latest download plan",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		path := planFile
		if path == "" {
			if path, err = planner.LatestPlan(cfg.StateDir); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		}
		if path == "" {
			output.PrintWarning("No plan found; run 'anacsync plan' first")
			os.Exit(runner.ExitNothingToDo)
		}
		items, err := planner.LoadPlan(path)
		if err != nil {
			output.PrintError("Failed to read plan: " + err.Error())
			os.Exit(1)
		}
		if len(items) == 0 {
			output.PrintWarning("Plan is empty, nothing to do")
			os.Exit(runner.ExitNothingToDo)
		}

		store := sidecar.NewStore()
		client := newHTTPClient(cfg)
		hist := history.Open(cfg.StateDir)
		mgr := download.NewManager(cfg, client, store, hist)
		r := runner.New(cfg, mgr)

		if dryRun {
			output.PrintHeader(fmt.Sprintf("Dry run: %d items", len(items)))
			for _, d := range r.DryRun(items) {
				if d.Err != nil {
					output.PrintWarning(fmt.Sprintf("  %s %s: %v", output.StyleSymbols["warning"], d.Item.DestPath, d.Err))
					continue
				}
				output.PrintInfo(fmt.Sprintf("  %s %s %s %s", output.StyleSymbols["arrow"], d.Strategy, output.StyleSymbols["arrow"], d.Item.DestPath))
			}
			return
		}

		// SIGINT finishes in-flight chunks, checkpoints, and returns.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary := r.Run(ctx, items)
		if !noSort && len(cfg.Sorting.Rules) > 0 {
			srt, serr := sorter.New(cfg.Sorting.Rules)
			if serr != nil {
				output.PrintWarning("Sorting skipped: " + serr.Error())
			} else {
				for _, res := range summary.Results {
					if !res.Outcome.OK() || res.Outcome.Skipped {
						continue
					}
					if _, perr := srt.Place(res.Item.DestPath, res.Item.DatasetSlug); perr != nil {
						output.PrintWarning(fmt.Sprintf("Could not sort %s: %v", res.Item.DestPath, perr))
					}
				}
			}
		}
		output.PrintSummary(summary)
		os.Exit(summary.ExitCode())
	},
}

func init() {
	runCmd.Flags().StringVarP(&planFile, "plan", "p", "", "Plan file to execute (default: latest)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show intended first strategy per item without downloading")
	runCmd.Flags().BoolVar(&noSort, "no-sort", false, "Skip sorting rules after download")
	rootCmd.AddCommand(runCmd)
}
