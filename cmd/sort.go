package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/output"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/sorter"
)

var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "Apply sorting rules to already-downloaded files",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		if len(cfg.Sorting.Rules) == 0 {
			output.PrintWarning("No sorting rules configured")
			return
		}
		srt, err := sorter.New(cfg.Sorting.Rules)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		store := sidecar.NewStore()
		moved := 0
		err = filepath.WalkDir(cfg.RootDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			name := d.Name()
			if strings.HasSuffix(name, sidecar.PartSuffix) ||
				strings.HasSuffix(name, sidecar.MetaSuffix) ||
				strings.HasSuffix(name, ".tmp") {
				return nil
			}
			sc, _ := store.Load(path)
			slug := ""
			if sc != nil {
				slug = sc.DatasetSlug
			}
			if slug == "" {
				slug = filepath.Base(filepath.Dir(path))
			}
			newPath, perr := srt.Place(path, slug)
			if perr != nil {
				output.PrintWarning(fmt.Sprintf("Could not sort %s: %v", path, perr))
				return nil
			}
			if newPath != "" {
				moved++
			}
			return nil
		})
		if err != nil {
			output.PrintError("Sort failed: " + err.Error())
			os.Exit(1)
		}
		output.PrintSuccess(fmt.Sprintf("Moved %d files", moved))
	},
}

func init() {
	rootCmd.AddCommand(sortCmd)
}
