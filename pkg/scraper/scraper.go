package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/geniass/searchwatch/pkg/metrics"
)

// Pagination styles understood by PageURL.
const (
	PaginationQuery = "query"
	PaginationPath  = "path"
)

var ErrMaxRetries = errors.New("max retries exceeded")

// Selectors locate listings inside a result page. Item is matched once per
// listing; Title, Price and Link are looked up inside each item.
type Selectors struct {
	Item  string
	Title string
	Price string
	Link  string
	// IDAttr names an attribute of the item element holding the record id.
	// When empty the id is derived from the link.
	IDAttr string
	// Next matches the "next page" link. Its presence means there is another page.
	Next string
}

// Pagination describes how page numbers are encoded in a search URL.
type Pagination struct {
	Style string
	// Param is the query parameter carrying the page number (query style).
	Param string
	// PathFormat is appended to the URL path for pages > 1 (path style), e.g. "p-%d".
	PathFormat string
}

// Options configure NewExtractor.
type Options struct {
	Selectors  Selectors
	Pagination Pagination
	UserAgent  string
	Timeout    time.Duration
	// CacheDir can be empty to disable caching.
	CacheDir string
	// MaxRetries is the number of retries after a failed request; 0 disables them.
	MaxRetries int
	// RetryBase scales the 2^n backoff between retries. Default: 1s.
	RetryBase time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// DefaultSelectors match the imot.bg style result tables.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:  "table:has(div.price):has(a.lnk1)",
		Title: "a.lnk1",
		Price: "div.price",
		Link:  "a.lnk1",
		Next:  "a.pageNumbersNext",
	}
}

func (o *Options) defaults() {
	d := DefaultSelectors()
	if o.Selectors.Item == "" {
		o.Selectors.Item = d.Item
	}
	if o.Selectors.Title == "" {
		o.Selectors.Title = d.Title
	}
	if o.Selectors.Price == "" {
		o.Selectors.Price = d.Price
	}
	if o.Selectors.Link == "" {
		o.Selectors.Link = d.Link
	}
	if o.Selectors.Next == "" {
		o.Selectors.Next = d.Next
	}
	if o.Pagination.Style == "" {
		o.Pagination.Style = PaginationQuery
	}
	if o.Pagination.Param == "" {
		o.Pagination.Param = "f1"
	}
	if o.Pagination.PathFormat == "" {
		o.Pagination.PathFormat = "p-%d"
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Windows NT x.y; Win64; x64; rv:10.0) Gecko/20100101 Firefox/10.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NewExtractor builds a colly collector configured for sequential page fetches.
func NewExtractor(opts Options) *Extractor {
	opts.defaults()

	options := []colly.CollectorOption{
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	}
	if opts.CacheDir != "" {
		options = append(options, colly.CacheDir(opts.CacheDir))
	}

	c := colly.NewCollector(options...)
	c.SetRequestTimeout(opts.Timeout)
	// cookies from one search leak into the next otherwise
	c.DisableCookies()

	return &Extractor{
		colly:      c,
		selectors:  opts.Selectors,
		pagination: opts.Pagination,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// FetchPage downloads and parses one result page, retrying transient failures
// with exponential backoff.
func (e *Extractor) FetchPage(ctx context.Context, baseURL string, page int) (Page, error) {
	pageURL, err := PageURL(baseURL, page, e.pagination)
	if err != nil {
		return Page{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			duration := time.Duration(math.Pow(2, float64(attempt-1))) * e.retryBase
			e.logger.Warn("page request failed, retrying",
				"url", pageURL, "attempt", attempt, "backoff", duration, "error", lastErr)
			e.metrics.FetchRetried()
			if err := sleepContext(ctx, duration); err != nil {
				return Page{}, err
			}
		}

		p, err := e.fetchOnce(ctx, pageURL)
		if err == nil {
			e.metrics.PageFetched()
			return p, nil
		}
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		lastErr = err
	}
	return Page{}, fmt.Errorf("%w (%d) for %q: %v", ErrMaxRetries, e.maxRetries, pageURL, lastErr)
}

func (e *Extractor) fetchOnce(ctx context.Context, pageURL string) (Page, error) {
	c := e.colly.Clone()
	c.Context = ctx

	var (
		p       Page
		skipped int
		reqErr  error
	)

	c.OnRequest(func(r *colly.Request) {
		e.logger.Debug("visiting", "url", r.URL.String())
	})

	c.OnHTML(e.selectors.Item, func(el *colly.HTMLElement) {
		rec, ok := e.parseItem(el)
		if !ok {
			skipped++
			return
		}
		p.Records = append(p.Records, rec)
	})

	c.OnHTML(e.selectors.Next, func(el *colly.HTMLElement) {
		if strings.TrimSpace(el.Attr("href")) != "" {
			p.HasNext = true
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		reqErr = fmt.Errorf("request %q [%d]: %w", r.Request.URL.String(), r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		if reqErr != nil {
			return Page{}, reqErr
		}
		return Page{}, err
	}
	if reqErr != nil {
		return Page{}, reqErr
	}

	if skipped > 0 {
		e.logger.Debug("skipped listings without price or link", "url", pageURL, "skipped", skipped)
	}
	return p, nil
}

func (e *Extractor) parseItem(el *colly.HTMLElement) (Record, bool) {
	price := firstText(el.DOM, e.selectors.Price)
	href, _ := el.DOM.Find(e.selectors.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if price == "" || href == "" {
		return Record{}, false
	}

	id := ""
	if e.selectors.IDAttr != "" {
		id = strings.TrimSpace(el.Attr(e.selectors.IDAttr))
	}
	if id == "" {
		id = NormalizeID(href)
	}
	if id == "" {
		return Record{}, false
	}

	return Record{
		ID:    id,
		Title: firstText(el.DOM, e.selectors.Title),
		Price: price,
		Link:  el.Request.AbsoluteURL(href),
	}, true
}

func firstText(s *goquery.Selection, selector string) string {
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}

// NormalizeID derives a stable record id from a listing link: the tracking
// "&slink" suffix and any leading "//" are removed.
func NormalizeID(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.Index(href, "&slink"); i >= 0 {
		href = href[:i]
	}
	return strings.TrimPrefix(href, "//")
}

// PageURL returns the URL of the given 1-based page of a search.
func PageURL(baseURL string, page int, p Pagination) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page %d", page)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}

	switch p.Style {
	case PaginationPath:
		if page == 1 {
			return baseURL, nil
		}
		format := p.PathFormat
		if format == "" {
			format = "p-%d"
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + fmt.Sprintf(format, page)
		u.RawPath = ""
	case PaginationQuery, "":
		param := p.Param
		if param == "" {
			param = "page"
		}
		q := u.Query()
		q.Set(param, strconv.Itoa(page))
		u.RawQuery = q.Encode()
	default:
		return "", fmt.Errorf("unknown pagination style %q", p.Style)
	}
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
