package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/catalog"
	"github.com/nicferr/anacsync/internal/output"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the remote catalog and record datasets",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		crawler := catalog.NewCrawler(cfg, newHTTPClient(cfg))
		n, err := crawler.Crawl(ctx)
		if err != nil {
			output.PrintError("Crawl failed: " + err.Error())
			os.Exit(1)
		}
		output.PrintSuccess(fmt.Sprintf("Recorded %d datasets", n))
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}
