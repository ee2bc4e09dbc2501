package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/geniass/searchwatch/pkg/metrics"
)

// Record is one listing as it appears on a result page.
type Record struct {
	ID    string
	Title string
	Price string
	Link  string
}

// Page is what the extractor returns for a single result page.
type Page struct {
	Records []Record
	HasNext bool
}

// PageExtractor turns one page of a paginated search into records.
// Page numbers start at 1.
type PageExtractor interface {
	FetchPage(ctx context.Context, baseURL string, page int) (Page, error)
}

// Extractor is the colly backed PageExtractor.
type Extractor struct {
	colly *colly.Collector

	selectors  Selectors
	pagination Pagination
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Walker drives a PageExtractor across all pages of one search.
type Walker struct {
	extractor PageExtractor
	delay     time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// Crawl is the result of one walk. Records are deduplicated, in page order.
type Crawl struct {
	Records    []Record
	Pages      int
	Duplicates int
}

// TrackedSearch is one saved search and the addresses subscribed to it.
type TrackedSearch struct {
	Name        string
	URL         string
	Subscribers []string
}
