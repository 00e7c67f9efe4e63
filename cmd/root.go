package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/utils"
)

var (
	cfgPath string
	debug   bool
)

var AnacsyncVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "anacsync",
	Short:   "anacsync mirrors a remote open-data catalog to a local tree",
	Version: AnacsyncVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default ~/.anacsync/anacsync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureStateDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newHTTPClient(cfg *config.Config) *httpx.Client {
	return httpx.New(httpx.Config{
		TimeoutConnect: time.Duration(cfg.HTTP.TimeoutConnectS) * time.Second,
		TimeoutRead:    time.Duration(cfg.HTTP.TimeoutReadS) * time.Second,
		UserAgent:      cfg.HTTP.UserAgent,
		Headers:        cfg.HTTP.Headers,
		HTTP2:          cfg.HTTP.HTTP2,
		RateLimitRPS:   cfg.Downloader.RateLimitRPS,
		JitterMin:      time.Duration(cfg.Crawler.DelayMsMin) * time.Millisecond,
		JitterMax:      time.Duration(cfg.Crawler.DelayMsMax) * time.Millisecond,
	})
}
