package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geniass/searchwatch/pkg/scraper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "data" || cfg.Searches != filepath.Join("data", "inputURLS.csv") {
		t.Errorf("unexpected paths %q %q", cfg.DataDir, cfg.Searches)
	}
	if cfg.Schedule.At != "07:00" || cfg.Schedule.PollInterval != time.Second {
		t.Errorf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.Scraper.Pagination.Param != "f1" || cfg.Scraper.MaxRetries != 5 || cfg.Scraper.PageDelay != time.Second {
		t.Errorf("unexpected scraper config %+v", cfg.Scraper)
	}
	if cfg.Scraper.Selectors.Item != scraper.DefaultSelectors().Item {
		t.Errorf("unexpected item selector %q", cfg.Scraper.Selectors.Item)
	}
	if cfg.SMTP.Port != 587 || !cfg.Log.RotateOnStart {
		t.Errorf("unexpected smtp/log defaults %+v %+v", cfg.SMTP, cfg.Log)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchwatch.yaml")
	yaml := strings.Join([]string{
		"data_dir: /var/lib/searchwatch",
		"schedule:",
		"  at: \"06:30:15\"",
		"scraper:",
		"  page_delay: 250ms",
		"  pagination:",
		"    style: path",
		"smtp:",
		"  host: mail.example.com",
		"  password: from-file",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEARCHWATCH_SMTP_PASSWORD", "from-env")
	t.Setenv("SEARCHWATCH_NOTIFY_OPERATOR", "ops@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/searchwatch" || cfg.Schedule.At != "06:30:15" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Scraper.PageDelay != 250*time.Millisecond || cfg.Scraper.Pagination.Style != scraper.PaginationPath {
		t.Errorf("scraper values not applied: %+v", cfg.Scraper)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Password != "from-env" {
		t.Errorf("smtp values not applied: %+v", cfg.SMTP)
	}
	if cfg.Notify.Operator != "ops@example.com" {
		t.Errorf("operator not taken from env: %q", cfg.Notify.Operator)
	}

	opts := cfg.Scraper.ExtractorOptions()
	if opts.Pagination.PathFormat != "p-%d" || opts.MaxRetries != 5 {
		t.Errorf("unexpected extractor options %+v", opts)
	}
	if cfg.SMTP.Notify().Configured() {
		t.Error("smtp without a from address must not count as configured")
	}
}

func TestLoadZeroRetries(t *testing.T) {
	t.Setenv("SEARCHWATCH_SCRAPER_MAX_RETRIES", "0")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Scraper.ExtractorOptions().MaxRetries; got != 0 {
		t.Errorf("max_retries 0 must disable retries, got %d", got)
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}

	t.Setenv("SEARCHWATCH_SCHEDULE_AT", "7am")
	if _, err := Load(""); err == nil {
		t.Error("expected an error for a bad schedule time")
	}

	t.Setenv("SEARCHWATCH_SCHEDULE_AT", "07:00")
	t.Setenv("SEARCHWATCH_SCRAPER_PAGINATION_STYLE", "fragment")
	if _, err := Load(""); err == nil {
		t.Error("expected an error for an unknown pagination style")
	}
}
