// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Render engines.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// Asset stores.
const (
	StoreLocal  = "local"
	StoreGCS    = "gcs"
	StoreMemory = "memory"
)

// Config captures all job configuration knobs loaded via Viper.
type Config struct {
	Input   InputConfig   `mapstructure:"input"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Render  RenderConfig  `mapstructure:"render"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Output  OutputConfig  `mapstructure:"output"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Run     RunConfig     `mapstructure:"run"`
}

// InputConfig names the target files and their columns.
type InputConfig struct {
	Files          []string `mapstructure:"files"`
	URLColumn      string   `mapstructure:"url_column"`
	AssetDirColumn string   `mapstructure:"asset_dir_column"`
}

// ScrapeConfig governs the worker pool and the extraction mapping.
type ScrapeConfig struct {
	Concurrency        int    `mapstructure:"concurrency"`
	BasePath           string `mapstructure:"base_path"`
	SettleSeconds      int    `mapstructure:"settle_seconds"`
	TaskDelayMs        int    `mapstructure:"task_delay_ms"`
	TaskTimeoutSeconds int    `mapstructure:"task_timeout_seconds"`
}

// RenderConfig configures the rendering engine.
type RenderConfig struct {
	Engine            string `mapstructure:"engine"`
	UserAgent         string `mapstructure:"user_agent"`
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	ExecPath          string `mapstructure:"exec_path"`
}

// AssetsConfig selects where logos are written.
type AssetsConfig struct {
	Store          string `mapstructure:"store"`
	Dir            string `mapstructure:"dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OutputConfig controls snapshot locations and pacing.
type OutputConfig struct {
	CheckpointPath  string `mapstructure:"checkpoint_path"`
	FinalPath       string `mapstructure:"final_path"`
	CheckpointEvery int    `mapstructure:"checkpoint_every"`
	RetryDelayMs    int    `mapstructure:"retry_delay_ms"`
}

// DBConfig enables the Postgres snapshot mirror when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables per-record notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	// ProgressSeconds is the minimum gap between progress lines.
	ProgressSeconds int `mapstructure:"progress_seconds"`
}

// MetricsConfig enables the Prometheus textfile export when a path is set.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// RunConfig identifies the run. An empty ID is generated at startup.
type RunConfig struct {
	ID string `mapstructure:"id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.files", []string{
		"Data/stock_analysis_screener_usa.csv",
		"Data/stock_analysis_screener_OTC_USA.csv",
	})
	v.SetDefault("input.url_column", "Link")
	v.SetDefault("input.asset_dir_column", "")
	v.SetDefault("scrape.concurrency", 10)
	v.SetDefault("scrape.base_path", "company/")
	v.SetDefault("scrape.settle_seconds", 5)
	v.SetDefault("scrape.task_delay_ms", 0)
	v.SetDefault("scrape.task_timeout_seconds", 90)
	v.SetDefault("render.engine", EngineChromedp)
	v.SetDefault("render.user_agent", "company-profile-scraper/0.1")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("assets.store", StoreLocal)
	v.SetDefault("assets.dir", "Data/company_logos_stock_analysis")
	v.SetDefault("assets.gcs_bucket", "")
	v.SetDefault("assets.gcs_prefix", "logos")
	v.SetDefault("assets.timeout_seconds", 10)
	v.SetDefault("output.checkpoint_path", "Data/SA_intermediate_results.csv")
	v.SetDefault("output.final_path", "Data/company_details.csv")
	v.SetDefault("output.checkpoint_every", 10)
	v.SetDefault("output.retry_delay_ms", 500)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "company_profiles")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "Data/scraping.log")
	v.SetDefault("logging.progress_seconds", 5)
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("run.id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Input.Files) == 0 {
		return fmt.Errorf("input.files must list at least one file")
	}
	if c.Input.URLColumn == "" {
		return fmt.Errorf("input.url_column is required")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Scrape.SettleSeconds < 0 {
		return fmt.Errorf("scrape.settle_seconds must be >= 0")
	}
	if c.Scrape.TaskDelayMs < 0 {
		return fmt.Errorf("scrape.task_delay_ms must be >= 0")
	}
	if c.Scrape.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.task_timeout_seconds must be > 0")
	}
	switch c.Render.Engine {
	case EngineChromedp, EngineStatic:
	default:
		return fmt.Errorf("render.engine must be %q or %q, got %q", EngineChromedp, EngineStatic, c.Render.Engine)
	}
	switch c.Assets.Store {
	case StoreLocal:
		if c.Assets.Dir == "" {
			return fmt.Errorf("assets.dir is required for the local store")
		}
	case StoreGCS:
		if c.Assets.GCSBucket == "" {
			return fmt.Errorf("assets.gcs_bucket is required for the gcs store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("assets.store must be one of local, gcs, memory; got %q", c.Assets.Store)
	}
	if c.Assets.TimeoutSeconds <= 0 {
		return fmt.Errorf("assets.timeout_seconds must be > 0")
	}
	if c.Output.FinalPath == "" {
		return fmt.Errorf("output.final_path is required")
	}
	if c.Output.CheckpointEvery <= 0 {
		return fmt.Errorf("output.checkpoint_every must be > 0")
	}
	if c.Logging.ProgressSeconds < 0 {
		return fmt.Errorf("logging.progress_seconds must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// SettleWait returns the post-navigation render wait.
func (c Config) SettleWait() time.Duration {
	return time.Duration(c.Scrape.SettleSeconds) * time.Second
}

// TaskDelay returns the pause taken before each dequeue.
func (c Config) TaskDelay() time.Duration {
	return time.Duration(c.Scrape.TaskDelayMs) * time.Millisecond
}

// TaskTimeout returns the per-task budget.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Scrape.TaskTimeoutSeconds) * time.Second
}

// NavTimeout returns the navigation budget of the headless engine.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSeconds) * time.Second
}

// AssetTimeout returns the logo download budget.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between the two attempts of a snapshot write.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Output.RetryDelayMs) * time.Millisecond
}

// ProgressInterval returns the minimum gap between progress log lines.
func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.Logging.ProgressSeconds) * time.Second
}
