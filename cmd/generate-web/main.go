package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/geniass/searchwatch/pkg/history"
	dataio "github.com/geniass/searchwatch/pkg/io"
	"github.com/geniass/searchwatch/pkg/web"
)

func main() {
	dataDirNameArg := flag.String("data-dir", "./data", "directory that contains snapshot files")
	searchesArg := flag.String("searches", "", "tracked searches file (default <data-dir>/inputURLS.csv)")
	historyArg := flag.String("history", "", "run history database to list recent runs from; empty to skip")
	ouputDirArg := flag.String("output-dir", "docs", "data to write rendered HTML content to")
	pagePathPrefixArg := flag.String("path-prefix", "", "prefix page link URLs (in case pages are hosted at a subpath); should start with '/'")

	flag.Parse()

	if *searchesArg == "" {
		*searchesArg = filepath.Join(*dataDirNameArg, "inputURLS.csv")
	}
	if err := os.MkdirAll(filepath.Join(*ouputDirArg, "searches"), os.ModeDir|0775); err != nil {
		log.Fatal(err)
	}

	searches, err := dataio.LoadSearches(*searchesArg)
	if err != nil {
		log.Fatal(err)
	}
	store := dataio.NewStore(*dataDirNameArg, nil)
	base := web.BaseContext{PathPrefix: *pagePathPrefixArg, Static: true}

	// Home page
	summaries, updated, err := web.Summaries(searches, store)
	if err != nil {
		log.Fatal(err)
	}
	index := web.IndexContext{BaseContext: base, Searches: summaries}
	index.Title, index.LastUpdated = "Tracked searches", updated
	if *historyArg != "" {
		h, err := history.Open(*historyArg)
		if err != nil {
			log.Fatal(err)
		}
		index.Runs, err = h.Recent(context.Background(), 20)
		h.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	err = renderToFile(*ouputDirArg, "index.html", func(w io.Writer) error {
		return web.RenderIndex(w, index)
	})
	if err != nil {
		log.Fatal(err)
	}

	// One page per search
	for _, s := range searches {
		c, err := web.LoadSearch(s, store)
		if err != nil {
			log.Fatal(err)
		}
		c.PathPrefix, c.Static = base.PathPrefix, true

		file, err := dataio.FileName(s.Name)
		if err != nil {
			log.Fatal(err)
		}
		name := filepath.Join("searches", strings.TrimSuffix(file, ".csv")+".html")
		err = renderToFile(*ouputDirArg, name, func(w io.Writer) error {
			return web.RenderSearch(w, c)
		})
		if err != nil {
			log.Fatal(err)
		}
	}
}

func renderToFile(dir string, filename string, renderFunc func(w io.Writer) error) error {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	defer f.Close()

	if err := renderFunc(f); err != nil {
		return err
	}
	return nil
}
