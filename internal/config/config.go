// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"magharvest/internal/forum"
)

// Config captures all service configuration knobs loaded via Viper.
// Mutable run state (watermark, per-section resume pages, the submission
// success log) is owned by the state store, not by this struct.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Submit   SubmitConfig   `mapstructure:"submit"`
	State    StateConfig    `mapstructure:"state"`
	Results  ResultsConfig  `mapstructure:"results"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig names the forum and its crawlable sections.
type SourceConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	UserAgent string          `mapstructure:"user_agent"`
	Sections  []forum.Section `mapstructure:"sections"`
}

// CrawlConfig governs the page worker pool and the task registry.
type CrawlConfig struct {
	Workers                 int `mapstructure:"workers"`
	MinWaitSeconds          int `mapstructure:"min_wait_seconds"`
	RandomDelaySeconds      int `mapstructure:"random_delay_seconds"`
	MaxPagesPerRun          int `mapstructure:"max_pages_per_run"`
	DiscoveryTimeoutSeconds int `mapstructure:"discovery_timeout_seconds"`
	ThreadTimeoutSeconds    int `mapstructure:"thread_timeout_seconds"`
	MaxConcurrentTasks      int `mapstructure:"max_concurrent_tasks"`
	KeepFinishedTasks       int `mapstructure:"keep_finished_tasks"`
}

// MinWait is the fixed part of the pre-fetch jitter delay.
func (c CrawlConfig) MinWait() time.Duration {
	return time.Duration(c.MinWaitSeconds) * time.Second
}

// RandomDelay is the random part of the pre-fetch jitter delay.
func (c CrawlConfig) RandomDelay() time.Duration {
	return time.Duration(c.RandomDelaySeconds) * time.Second
}

// DiscoveryTimeout bounds one listing page fetch.
func (c CrawlConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(c.DiscoveryTimeoutSeconds) * time.Second
}

// ThreadTimeout bounds one full thread page fetch.
func (c CrawlConfig) ThreadTimeout() time.Duration {
	return time.Duration(c.ThreadTimeoutSeconds) * time.Second
}

// HeadlessConfig configures the rendering escalation subsystem.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	ConfirmSelector   string `mapstructure:"confirm_selector"`
}

// NavTimeout bounds one headless navigation.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SubmitConfig configures the offline-download submission pipeline.
type SubmitConfig struct {
	CookieUID         string `mapstructure:"cookie_uid"`
	CookieCID         string `mapstructure:"cookie_cid"`
	CookieSEID        string `mapstructure:"cookie_seid"`
	TargetDirID       string `mapstructure:"target_dir_id"`
	BatchSize         int    `mapstructure:"batch_size"`
	RequestIntervalMs int    `mapstructure:"request_interval_ms"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	DedupEnabled      bool   `mapstructure:"dedup_enabled"`
	DedupScope        string `mapstructure:"dedup_scope"`
}

// RequestInterval is the configured gap between downstream calls, before the
// rate limiter's floor is applied.
func (c SubmitConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

// Timeout bounds one downstream HTTP call.
func (c SubmitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StateConfig selects where watermark/resume/dedup state lives.
type StateConfig struct {
	Provider       string `mapstructure:"provider"`
	Path           string `mapstructure:"path"`
	SuccessLogPath string `mapstructure:"success_log_path"`
	DSN            string `mapstructure:"dsn"`
}

// ResultsConfig controls the CSV result sink and its archive target.
type ResultsConfig struct {
	Dir     string        `mapstructure:"dir"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig selects the blob store run files are archived to.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
}

// NotifyConfig selects the completion notification publisher.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ScheduleConfig holds the cron-driven recurring crawl.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	Mode    string `mapstructure:"mode"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAGHARVEST")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("crawl.workers", 5)
	v.SetDefault("crawl.min_wait_seconds", 2)
	v.SetDefault("crawl.random_delay_seconds", 5)
	v.SetDefault("crawl.max_pages_per_run", 5)
	v.SetDefault("crawl.discovery_timeout_seconds", 60)
	v.SetDefault("crawl.thread_timeout_seconds", 120)
	v.SetDefault("crawl.max_concurrent_tasks", 10)
	v.SetDefault("crawl.keep_finished_tasks", 10)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.confirm_selector", "a.enter-btn")
	v.SetDefault("submit.batch_size", 100)
	v.SetDefault("submit.request_interval_ms", 5000)
	v.SetDefault("submit.timeout_seconds", 30)
	v.SetDefault("submit.dedup_enabled", true)
	v.SetDefault("submit.dedup_scope", "all")
	v.SetDefault("state.provider", "file")
	v.SetDefault("state.path", "data/state.json")
	v.SetDefault("state.success_log_path", "data/transfer_success_record.txt")
	v.SetDefault("results.dir", "data/results")
	v.SetDefault("results.archive.provider", "none")
	v.SetDefault("results.archive.prefix", "runs")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 3 * * *")
	v.SetDefault("schedule.mode", "incremental")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.MinWaitSeconds < 0 || c.Crawl.RandomDelaySeconds < 0 {
		return fmt.Errorf("crawl wait settings must be >= 0")
	}
	if c.Crawl.MaxPagesPerRun <= 0 {
		return fmt.Errorf("crawl.max_pages_per_run must be > 0")
	}
	if c.Crawl.DiscoveryTimeoutSeconds <= 0 || c.Crawl.ThreadTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl timeouts must be > 0")
	}
	if c.Crawl.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("crawl.max_concurrent_tasks must be > 0")
	}
	if c.Crawl.KeepFinishedTasks < 0 {
		return fmt.Errorf("crawl.keep_finished_tasks must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Submit.BatchSize <= 0 || c.Submit.BatchSize > 100 {
		return fmt.Errorf("submit.batch_size must be in (0, 100]")
	}
	if c.Submit.DedupScope != "all" && c.Submit.DedupScope != "current" {
		return fmt.Errorf("submit.dedup_scope must be \"all\" or \"current\"")
	}
	if c.Submit.TimeoutSeconds <= 0 {
		return fmt.Errorf("submit.timeout_seconds must be > 0")
	}
	switch c.State.Provider {
	case "file":
		if c.State.Path == "" {
			return fmt.Errorf("state.path must be set for the file provider")
		}
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn must be set for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("state.provider must be one of file, postgres, memory")
	}
	switch c.Results.Archive.Provider {
	case "local":
		if c.Results.Archive.LocalDir == "" {
			return fmt.Errorf("results.archive.local_dir must be set for the local provider")
		}
	case "gcs":
		if c.Results.Archive.Bucket == "" {
			return fmt.Errorf("results.archive.bucket must be set for the gcs provider")
		}
	case "none":
	default:
		return fmt.Errorf("results.archive.provider must be one of local, gcs, none")
	}
	switch c.Notify.Provider {
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for the pubsub provider")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("notify.provider must be one of pubsub, memory, none")
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron must be set when the schedule is enabled")
	}
	if len(c.Source.Sections) > 0 && c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set when sections are configured")
	}
	for i, s := range c.Source.Sections {
		if s.FID == "" || s.TypeID == "" {
			return fmt.Errorf("source.sections[%d]: fid and typeid must be set", i)
		}
		if s.StartPage <= 0 || s.EndPage < s.StartPage {
			return fmt.Errorf("source.sections[%d]: page range [%d, %d] is invalid", i, s.StartPage, s.EndPage)
		}
	}
	return nil
}
