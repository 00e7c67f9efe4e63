package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nicferr/anacsync/internal/fsutil"
	"github.com/nicferr/anacsync/internal/utils"
)

type CrawlerConfig struct {
	PageStart          int `yaml:"page_start"`
	EmptyPageStopAfter int `yaml:"empty_page_stop_after"`
	DelayMsMin         int `yaml:"delay_ms_min"`
	DelayMsMax         int `yaml:"delay_ms_max"`
	MaxConcurrency     int `yaml:"max_concurrency"`
}

type HTTPConfig struct {
	TimeoutConnectS int               `yaml:"timeout_connect_s"`
	TimeoutReadS    int               `yaml:"timeout_read_s"`
	HTTP2           bool              `yaml:"http2"`
	UserAgent       string            `yaml:"user_agent"`
	Headers         map[string]string `yaml:"headers"`
}

type DownloaderConfig struct {
	Strategies                        []string `yaml:"strategies"`
	RetriesPerStrategy                int      `yaml:"retries_per_strategy"`
	SwitchAfterSecondsWithoutProgress int      `yaml:"switch_after_seconds_without_progress"`
	DynamicChunksMB                   []int    `yaml:"dynamic_chunks_mb"`
	SparseSegmentMB                   int      `yaml:"sparse_segment_mb"`
	SnailChunksKB                     int      `yaml:"snail_chunks_kb"`
	OverlapBytes                      int64    `yaml:"overlap_bytes"`
	EnableCurl                        bool     `yaml:"enable_curl"`
	CurlPath                          string   `yaml:"curl_path"`
	RateLimitRPS                      float64  `yaml:"rate_limit_rps"`
	MaxConcurrency                    int      `yaml:"max_concurrency"`
}

type SortingRule struct {
	If     string `yaml:"if"`
	MoveTo string `yaml:"move_to"`
}

type SortingConfig struct {
	Rules []SortingRule `yaml:"rules"`
}

type Config struct {
	RootDir    string           `yaml:"root_dir"`
	BaseURL    string           `yaml:"base_url"`
	StateDir   string           `yaml:"state_dir"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	HTTP       HTTPConfig       `yaml:"http"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Sorting    SortingConfig    `yaml:"sorting"`
}

// KnownStrategies is the closed set of cascade strategy names accepted in
// downloader.strategies.
var KnownStrategies = []string{"s1_dynamic", "s2_sparse", "s3_curl", "s4_shortconn", "s5_tailfirst"}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		RootDir:  filepath.Join(home, "anacsync", "data"),
		BaseURL:  "https://dati.anticorruzione.it/opendata",
		StateDir: filepath.Join(home, ".anacsync"),
		Crawler: CrawlerConfig{
			PageStart:          1,
			EmptyPageStopAfter: 2,
			DelayMsMin:         300,
			DelayMsMax:         700,
			MaxConcurrency:     1,
		},
		HTTP: HTTPConfig{
			TimeoutConnectS: 10,
			TimeoutReadS:    60,
			HTTP2:           false,
			UserAgent:       "anacsync/1.0",
			Headers:         map[string]string{},
		},
		Downloader: DownloaderConfig{
			Strategies:                        append([]string{}, KnownStrategies...),
			RetriesPerStrategy:                3,
			SwitchAfterSecondsWithoutProgress: 300,
			DynamicChunksMB:                   []int{2, 6, 12},
			SparseSegmentMB:                   4,
			SnailChunksKB:                     1024,
			OverlapBytes:                      32768,
			EnableCurl:                        true,
			CurlPath:                          "curl",
			RateLimitRPS:                      1.0,
			MaxConcurrency:                    1,
		},
		Sorting: SortingConfig{},
	}
}

// Load reads a YAML config file, filling any unset field with defaults.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(utils.ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %v", err)
	}
	cfg.RootDir = utils.ExpandHome(cfg.RootDir)
	cfg.StateDir = utils.ExpandHome(cfg.StateDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	known := make(map[string]bool, len(KnownStrategies))
	for _, s := range KnownStrategies {
		known[s] = true
	}
	for _, s := range c.Downloader.Strategies {
		if !known[s] {
			return fmt.Errorf("unknown strategy in config: %s", s)
		}
	}
	if len(c.Downloader.DynamicChunksMB) != 3 {
		return fmt.Errorf("dynamic_chunks_mb must have exactly 3 entries")
	}
	if c.Downloader.SparseSegmentMB <= 0 {
		return fmt.Errorf("sparse_segment_mb must be positive")
	}
	if c.Downloader.MaxConcurrency < 1 {
		c.Downloader.MaxConcurrency = 1
	} else if c.Downloader.MaxConcurrency > 2 {
		c.Downloader.MaxConcurrency = 2
	}
	return nil
}

// Save writes the config as YAML through the atomic write path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(utils.ExpandHome(path), data, 0644)
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anacsync", "anacsync.yaml")
}

// EnsureStateDirs creates the state subtree used by the record files.
func (c *Config) EnsureStateDirs() error {
	for _, sub := range []string{"catalog", "local", "plans", "downloads"} {
		if err := fsutil.EnsureDir(filepath.Join(c.StateDir, sub)); err != nil {
			return err
		}
	}
	return nil
}
