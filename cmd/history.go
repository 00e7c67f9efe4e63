package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/history"
	"github.com/nicferr/anacsync/internal/output"
	"github.com/nicferr/anacsync/internal/utils"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent download attempts",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		attempts, err := history.Open(cfg.StateDir).Tail(historyLimit)
		if err != nil {
			output.PrintError("Failed to read history: " + err.Error())
			os.Exit(1)
		}
		if len(attempts) == 0 {
			output.PrintWarning("No download history yet")
			return
		}
		for _, a := range attempts {
			mark := output.StyleSymbols["pass"]
			line := fmt.Sprintf("%s %s %s %s (%s)", a.Start, mark, a.Strategy, a.DestPath, utils.FormatBytes(uint64(a.Bytes)))
			if a.OK {
				output.PrintSuccess(line)
			} else {
				output.PrintError(fmt.Sprintf("%s %s %s %s: %s", a.Start, output.StyleSymbols["fail"], a.Strategy, a.DestPath, a.Error))
			}
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}
