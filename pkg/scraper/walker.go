package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geniass/searchwatch/pkg/metrics"
)

// NewWalker returns a Walker that waits delay between consecutive page requests.
func NewWalker(extractor PageExtractor, delay time.Duration, logger *slog.Logger, m *metrics.Metrics) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		extractor: extractor,
		delay:     delay,
		logger:    logger,
		metrics:   m,
		sleep:     sleepContext,
	}
}

// Walk requests pages 1, 2, 3... of baseURL until the extractor reports no
// next page or returns an empty page. A failing page ends the walk: the
// records collected so far are returned together with the error.
func (w *Walker) Walk(ctx context.Context, name, baseURL string) (Crawl, error) {
	var (
		crawl   Crawl
		seen    = make(map[string]struct{})
		lastIDs []string
	)

	for page := 1; ; page++ {
		if page > 1 {
			if err := w.sleep(ctx, w.delay); err != nil {
				return crawl, fmt.Errorf("search %q page %d: %w", name, page, err)
			}
		}

		p, err := w.extractor.FetchPage(ctx, baseURL, page)
		if err != nil {
			return crawl, fmt.Errorf("search %q page %d: %w", name, page, err)
		}

		ids := make([]string, 0, len(p.Records))
		for _, r := range p.Records {
			ids = append(ids, r.ID)
		}
		if page > 1 && sameIDs(ids, lastIDs) {
			w.logger.Info("page repeats the previous one, stopping",
				"search", name, "page", page)
			break
		}
		lastIDs = ids
		crawl.Pages = page

		for _, r := range p.Records {
			if _, dup := seen[r.ID]; dup {
				crawl.Duplicates++
				continue
			}
			seen[r.ID] = struct{}{}
			crawl.Records = append(crawl.Records, r)
		}

		w.logger.Debug("page walked",
			"search", name, "page", page, "records", len(p.Records), "has_next", p.HasNext)

		if len(p.Records) == 0 || !p.HasNext {
			break
		}
	}

	if crawl.Duplicates > 0 {
		w.logger.Warn("duplicate record ids dropped", "search", name, "duplicates", crawl.Duplicates)
	}
	w.metrics.RecordsSeen(len(crawl.Records))
	return crawl, nil
}

func sameIDs(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
