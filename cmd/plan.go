package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/catalog"
	"github.com/nicferr/anacsync/internal/inventory"
	"github.com/nicferr/anacsync/internal/output"
	"github.com/nicferr/anacsync/internal/planner"
	"github.com/nicferr/anacsync/internal/sidecar"
)

var onlyMissing bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Diff the catalog against the local inventory into a download plan",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		datasets, err := catalog.Load(cfg.StateDir)
		if err != nil {
			output.PrintError("Failed to read catalog: " + err.Error())
			os.Exit(1)
		}
		if len(datasets) == 0 {
			output.PrintWarning("Catalog is empty; run 'anacsync crawl' first")
			os.Exit(1)
		}
		inv, err := inventory.Load(cfg.StateDir)
		if err != nil {
			output.PrintError("Failed to read inventory: " + err.Error())
			os.Exit(1)
		}
		items, err := planner.Build(datasets, inv, cfg.RootDir, sidecar.NewStore())
		if err != nil {
			output.PrintError("Failed to build plan: " + err.Error())
			os.Exit(1)
		}
		if onlyMissing {
			filtered := items[:0]
			for _, item := range items {
				if item.Reason == planner.ReasonMissing {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}
		path, err := planner.WritePlan(cfg.StateDir, items)
		if err != nil {
			output.PrintError("Failed to write plan: " + err.Error())
			os.Exit(1)
		}
		byReason := make(map[string]int)
		for _, item := range items {
			byReason[item.Reason]++
		}
		output.PrintSuccess(fmt.Sprintf("Planned %d downloads (%s)", len(items), path))
		for reason, count := range byReason {
			output.PrintDetail(fmt.Sprintf("  %s %s: %d", output.StyleSymbols["bullet"], reason, count))
		}
	},
}

func init() {
	planCmd.Flags().BoolVar(&onlyMissing, "only-missing", false, "Plan only missing files, ignore changed ones")
	rootCmd.AddCommand(planCmd)
}
