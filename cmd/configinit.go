package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/output"
)

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default config file",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil {
			output.PrintWarning("Config already exists at " + path)
			return
		}
		cfg := config.Default()
		if err := cfg.Save(path); err != nil {
			output.PrintError("Failed to write config: " + err.Error())
			os.Exit(1)
		}
		output.PrintSuccess("Wrote default config to " + path)
	},
}

func init() {
	rootCmd.AddCommand(configInitCmd)
}
