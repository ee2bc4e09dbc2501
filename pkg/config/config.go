// Package config loads searchwatch settings from an optional YAML file and
// SEARCHWATCH_ environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/geniass/searchwatch/pkg/logging"
	"github.com/geniass/searchwatch/pkg/notify"
	"github.com/geniass/searchwatch/pkg/scheduler"
	"github.com/geniass/searchwatch/pkg/scraper"
)

const EnvPrefix = "SEARCHWATCH"

type Config struct {
	// DataDir holds the snapshot and delta files.
	DataDir string `mapstructure:"data_dir"`
	// Searches is the tracked searches CSV.
	Searches string `mapstructure:"searches"`
	// History is the sqlite run ledger; empty disables it.
	History  string         `mapstructure:"history"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
	Web      WebConfig      `mapstructure:"web"`
}

type ScraperConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	// MaxRetries of 0 disables retries.
	MaxRetries int              `mapstructure:"max_retries"`
	RetryBase  time.Duration    `mapstructure:"retry_base"`
	CacheDir   string           `mapstructure:"cache_dir"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Selectors  SelectorsConfig  `mapstructure:"selectors"`
}

type PaginationConfig struct {
	Style      string `mapstructure:"style"`
	Param      string `mapstructure:"param"`
	PathFormat string `mapstructure:"path_format"`
}

type SelectorsConfig struct {
	Item   string `mapstructure:"item"`
	Title  string `mapstructure:"title"`
	Price  string `mapstructure:"price"`
	Link   string `mapstructure:"link"`
	IDAttr string `mapstructure:"id_attr"`
	Next   string `mapstructure:"next"`
}

type ScheduleConfig struct {
	// At is the daily run time, HH:MM or HH:MM:SS local time.
	At           string        `mapstructure:"at"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type NotifyConfig struct {
	// Operator receives the failure alert.
	Operator string `mapstructure:"operator"`
	// DryRun logs mail instead of sending it.
	DryRun bool `mapstructure:"dry_run"`
}

type LogConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	File          string `mapstructure:"file"`
	MaxSizeMB     int    `mapstructure:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAgeDays    int    `mapstructure:"max_age_days"`
	Compress      bool   `mapstructure:"compress"`
	RotateOnStart bool   `mapstructure:"rotate_on_start"`
	Buffer        int    `mapstructure:"buffer"`
}

type WebConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("searches", filepath.Join("data", "inputURLS.csv"))
	v.SetDefault("history", filepath.Join("data", "history.db"))

	d := scraper.DefaultSelectors()
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.page_delay", time.Second)
	v.SetDefault("scraper.max_retries", 5)
	v.SetDefault("scraper.retry_base", time.Second)
	v.SetDefault("scraper.cache_dir", "")
	v.SetDefault("scraper.pagination.style", scraper.PaginationQuery)
	v.SetDefault("scraper.pagination.param", "f1")
	v.SetDefault("scraper.pagination.path_format", "p-%d")
	v.SetDefault("scraper.selectors.item", d.Item)
	v.SetDefault("scraper.selectors.title", d.Title)
	v.SetDefault("scraper.selectors.price", d.Price)
	v.SetDefault("scraper.selectors.link", d.Link)
	v.SetDefault("scraper.selectors.id_attr", d.IDAttr)
	v.SetDefault("scraper.selectors.next", d.Next)

	v.SetDefault("schedule.at", "07:00")
	v.SetDefault("schedule.poll_interval", time.Second)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("notify.operator", "")
	v.SetDefault("notify.dry_run", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", filepath.Join("data", "scraper.log"))
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.rotate_on_start", true)
	v.SetDefault("log.buffer", 500)

	v.SetDefault("web.addr", "")
}

// Load reads path, which may be empty, then applies environment overrides
// such as SEARCHWATCH_SMTP_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Searches == "" {
		return fmt.Errorf("searches is required")
	}
	switch c.Scraper.Pagination.Style {
	case scraper.PaginationQuery, scraper.PaginationPath:
	default:
		return fmt.Errorf("unknown pagination style %q", c.Scraper.Pagination.Style)
	}
	if c.Scraper.Pagination.Style == scraper.PaginationPath && !strings.Contains(c.Scraper.Pagination.PathFormat, "%d") {
		return fmt.Errorf("pagination path_format %q has no %%d verb", c.Scraper.Pagination.PathFormat)
	}
	if _, err := scheduler.ParseTimeOfDay(c.Schedule.At); err != nil {
		return err
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.SMTP.Port)
	}
	return nil
}

// ExtractorOptions maps the scraper settings onto scraper.Options.
func (c ScraperConfig) ExtractorOptions() scraper.Options {
	return scraper.Options{
		Selectors: scraper.Selectors{
			Item:   c.Selectors.Item,
			Title:  c.Selectors.Title,
			Price:  c.Selectors.Price,
			Link:   c.Selectors.Link,
			IDAttr: c.Selectors.IDAttr,
			Next:   c.Selectors.Next,
		},
		Pagination: scraper.Pagination{
			Style:      c.Pagination.Style,
			Param:      c.Pagination.Param,
			PathFormat: c.Pagination.PathFormat,
		},
		UserAgent:  c.UserAgent,
		Timeout:    c.Timeout,
		CacheDir:   c.CacheDir,
		MaxRetries: c.MaxRetries,
		RetryBase:  c.RetryBase,
	}
}

func (c SMTPConfig) Notify() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
	}
}

func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:         c.Level,
		Format:        c.Format,
		File:          c.File,
		MaxSizeMB:     c.MaxSizeMB,
		MaxBackups:    c.MaxBackups,
		MaxAgeDays:    c.MaxAgeDays,
		Compress:      c.Compress,
		RotateOnStart: c.RotateOnStart,
		Buffer:        c.Buffer,
	}
}
