package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/inventory"
	"github.com/nicferr/anacsync/internal/output"
	"github.com/nicferr/anacsync/internal/sidecar"
)

var withHash bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the local tree into the inventory",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		records, err := inventory.Scan(cfg.RootDir, cfg.StateDir, withHash, sidecar.NewStore())
		if err != nil {
			output.PrintError("Scan failed: " + err.Error())
			os.Exit(1)
		}
		output.PrintSuccess(fmt.Sprintf("Inventoried %d files", len(records)))
	},
}

func init() {
	scanCmd.Flags().BoolVar(&withHash, "hash", false, "Compute sha256 for files without a sidecar hash")
	rootCmd.AddCommand(scanCmd)
}
