package main

import (
	"flag"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/geniass/searchwatch/pkg/history"
	dataio "github.com/geniass/searchwatch/pkg/io"
	"github.com/geniass/searchwatch/pkg/scraper"
	"github.com/geniass/searchwatch/pkg/web"
)

// dev-web serves the viewer read-only over an existing data dir.
func main() {
	dataDirArg := flag.String("data-dir", "./data", "directory that contains snapshot files")
	searchesArg := flag.String("searches", "", "tracked searches file (default <data-dir>/inputURLS.csv)")
	historyArg := flag.String("history", "", "run history database (default <data-dir>/history.db)")
	addrArg := flag.String("addr", ":8080", "listen address")

	flag.Parse()

	logger := slog.Default()
	if *searchesArg == "" {
		*searchesArg = filepath.Join(*dataDirArg, "inputURLS.csv")
	}
	if *historyArg == "" {
		*historyArg = filepath.Join(*dataDirArg, "history.db")
	}

	cfg := web.Config{
		Searches: func() ([]scraper.TrackedSearch, error) { return dataio.LoadSearches(*searchesArg) },
		Store:    dataio.NewStore(*dataDirArg, logger),
		Logger:   logger,
	}
	if h, err := history.Open(*historyArg); err != nil {
		logger.Warn("run history unavailable", "path", *historyArg, "error", err)
	} else {
		defer h.Close()
		cfg.History = h
	}

	logger.Info("listening", "addr", *addrArg)
	if err := http.ListenAndServe(*addrArg, web.NewHandler(cfg)); err != nil {
		logger.Error("server exited", "error", err)
	}
}
