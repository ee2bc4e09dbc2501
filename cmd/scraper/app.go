package main

import (
	"log/slog"
	"os"

	"github.com/geniass/searchwatch/pkg/config"
	"github.com/geniass/searchwatch/pkg/history"
	dataio "github.com/geniass/searchwatch/pkg/io"
	"github.com/geniass/searchwatch/pkg/logging"
	"github.com/geniass/searchwatch/pkg/metrics"
	"github.com/geniass/searchwatch/pkg/notify"
	"github.com/geniass/searchwatch/pkg/pipeline"
	"github.com/geniass/searchwatch/pkg/scheduler"
	"github.com/geniass/searchwatch/pkg/scraper"
	"github.com/geniass/searchwatch/pkg/web"
)

// application holds everything a command needs, built from one Config.
type application struct {
	config    *config.Config
	log       *logging.Logger
	metrics   *metrics.Metrics
	store     *dataio.Store
	history   *history.Store
	scheduler *scheduler.Scheduler
	closed    bool
}

func newApplication(configPath string, dryRun bool) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.Notify.DryRun = true
	}
	if err := os.MkdirAll(cfg.DataDir, os.ModeDir|0755); err != nil {
		return nil, err
	}

	l, err := logging.New(cfg.Log.Logging(), os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	logger := l.Logger

	app := &application{config: cfg, log: l, metrics: metrics.New()}
	app.store = dataio.NewStore(cfg.DataDir, logger.With("component", "store"))

	var opts []pipeline.Option
	opts = append(opts, pipeline.WithMetrics(app.metrics))
	if cfg.History != "" {
		h, err := history.Open(cfg.History)
		if err != nil {
			logger.Warn("run history disabled", "path", cfg.History, "error", err)
		} else {
			app.history = h
			opts = append(opts, pipeline.WithHistory(h))
		}
	}

	extractorOpts := cfg.Scraper.ExtractorOptions()
	extractorOpts.Logger = logger.With("component", "extractor")
	extractorOpts.Metrics = app.metrics
	walker := scraper.NewWalker(scraper.NewExtractor(extractorOpts), cfg.Scraper.PageDelay, logger.With("component", "walker"), app.metrics)

	p := pipeline.New(app.searchSource(), walker, app.store, logger.With("component", "pipeline"), opts...)

	var mailer notify.Mailer
	smtpCfg := cfg.SMTP.Notify()
	switch {
	case cfg.Notify.DryRun:
		mailer = notify.LogMailer{Logger: logger.With("component", "mailer")}
	case !smtpCfg.Configured():
		logger.Warn("smtp is not configured, mail will only be logged")
		mailer = notify.LogMailer{Logger: logger.With("component", "mailer")}
	default:
		mailer = notify.NewSMTPMailer(smtpCfg)
	}
	if cfg.Notify.Operator == "" {
		logger.Warn("no operator address configured, failure alerts cannot be delivered")
	}
	dispatcher := notify.NewDispatcher(mailer, cfg.Notify.Operator, logger.With("component", "notify"), app.metrics)

	app.scheduler = scheduler.New(p, dispatcher, scheduler.Config{PollInterval: cfg.Schedule.PollInterval}, logger.With("component", "scheduler"))
	return app, nil
}

func (a *application) searchSource() pipeline.SearchSource {
	return func() ([]scraper.TrackedSearch, error) {
		return dataio.LoadSearches(a.config.Searches)
	}
}

func (a *application) handler(runs bool) web.Config {
	cfg := web.Config{
		Searches: a.searchSource(),
		Store:    a.store,
		Hub:      a.log.Hub,
		Metrics:  a.metrics.Handler(),
		Logger:   a.log.With("component", "web"),
	}
	if a.history != nil {
		cfg.History = a.history
	}
	if runs {
		cfg.Runner = a.scheduler
	}
	return cfg
}

func (a *application) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("close history", "error", err)
		}
	}
	a.log.Close()
}
