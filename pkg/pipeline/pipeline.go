// Package pipeline runs crawl, reconcile and persist for every tracked search.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/geniass/searchwatch/pkg/metrics"
	"github.com/geniass/searchwatch/pkg/reconcile"
	"github.com/geniass/searchwatch/pkg/scraper"
)

var ErrNoOutput = errors.New("no search could be persisted")

// SearchSource returns the tracked searches for a run, in order.
type SearchSource func() ([]scraper.TrackedSearch, error)

// Crawler walks every page of one search.
type Crawler interface {
	Walk(ctx context.Context, name, baseURL string) (scraper.Crawl, error)
}

// SnapshotStore persists per-search snapshots and deltas.
type SnapshotStore interface {
	Load(name string) (*reconcile.Snapshot, error)
	Save(name string, snap *reconcile.Snapshot) error
	SaveDelta(name string, deltas []reconcile.Delta) error
}

// Recorder keeps a ledger of finished runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// SearchResult is the outcome of one tracked search within a run.
type SearchResult struct {
	Search   scraper.TrackedSearch
	Snapshot *reconcile.Snapshot
	Deltas   []reconcile.Delta
	Pages    int
	Records  int
	// Crawled is true when every page was walked without error.
	Crawled bool
	// Reconciled is true when the snapshot and the delta file were persisted.
	// Only reconciled results are reported.
	Reconciled bool
	Err        error
}

// Run is one execution of the pipeline across all tracked searches.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Searches   []scraper.TrackedSearch
	Results    []SearchResult
	// Err is set when the run failed as a whole.
	Err error
}

// Result returns the result of the named search.
func (r *Run) Result(name string) (SearchResult, bool) {
	if r == nil {
		return SearchResult{}, false
	}
	for _, res := range r.Results {
		if res.Search.Name == name {
			return res, true
		}
	}
	return SearchResult{}, false
}

// Pipeline is the unit of work the scheduler executes.
type Pipeline struct {
	searches SearchSource
	crawler  Crawler
	store    SnapshotStore
	history  Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newID    func() string
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHistory records every run in r.
func WithHistory(r Recorder) Option {
	return func(p *Pipeline) { p.history = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(searches SearchSource, crawler Crawler, store SnapshotStore, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		searches: searches,
		crawler:  crawler,
		store:    store,
		logger:   logger,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes every tracked search in order. Failures of a single search
// are logged and kept in its SearchResult; the returned error is non-nil only
// when the run failed as a whole: the searches could not be read, the context
// was cancelled, or no crawled search could be persisted.
func (p *Pipeline) Run(ctx context.Context) (*Run, error) {
	run := &Run{ID: p.newID(), StartedAt: p.now()}
	logger := p.logger.With("run_id", run.ID)
	logger.Info("run started")

	err := p.run(ctx, logger, run)
	run.FinishedAt = p.now()
	run.Err = err
	p.metrics.RunFinished(err == nil, run.FinishedAt.Sub(run.StartedAt))

	if p.history != nil {
		if herr := p.history.Record(ctx, run); herr != nil {
			logger.Warn("could not record run history", "error", herr)
		}
	}

	if err != nil {
		logger.Error("run failed", "error", err)
		return run, err
	}
	logger.Info("run finished", "searches", len(run.Results), "took", run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, run *Run) error {
	searches, err := p.searches()
	if err != nil {
		return fmt.Errorf("load tracked searches: %w", err)
	}
	run.Searches = searches
	if len(searches) == 0 {
		logger.Warn("no tracked searches configured, nothing to do")
		return nil
	}

	var crawled, unpersisted int
	for _, s := range searches {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := p.processSearch(ctx, logger.With("search", s.Name), s)
		run.Results = append(run.Results, res)
		p.metrics.SearchFinished(res.Reconciled)

		if res.Crawled {
			crawled++
			if !res.Reconciled {
				unpersisted++
			}
		}
	}

	if crawled > 0 && unpersisted == crawled {
		return ErrNoOutput
	}
	return nil
}

func (p *Pipeline) processSearch(ctx context.Context, logger *slog.Logger, s scraper.TrackedSearch) SearchResult {
	res := SearchResult{Search: s}

	crawl, err := p.crawler.Walk(ctx, s.Name, s.URL)
	res.Pages, res.Records = crawl.Pages, len(crawl.Records)
	if err != nil {
		res.Err = err
		logger.Error("crawl failed, keeping previous snapshot",
			"pages", crawl.Pages, "records", len(crawl.Records), "error", err)
		p.clearDelta(logger, s.Name)
		return res
	}
	res.Crawled = true

	prev, err := p.store.Load(s.Name)
	if err != nil {
		res.Err = fmt.Errorf("load snapshot: %w", err)
		logger.Error("could not load snapshot", "error", err)
		p.clearDelta(logger, s.Name)
		return res
	}

	next, deltas := reconcile.Reconcile(prev, crawl.Records)
	res.Snapshot, res.Deltas = next, deltas

	if err := p.store.Save(s.Name, next); err != nil {
		res.Err = err
		logger.Error("could not save snapshot", "error", err)
		p.clearDelta(logger, s.Name)
		return res
	}
	if err := p.store.SaveDelta(s.Name, deltas); err != nil {
		res.Err = err
		logger.Error("could not save delta", "error", err)
		return res
	}
	res.Reconciled = true

	counts := reconcile.Counts(deltas)
	for kind, n := range counts {
		p.metrics.Deltas(kind.String(), n)
	}
	for _, d := range deltas {
		logger.Info("record "+d.Kind.String(), "id", d.Record.ID, "price", d.Record.Price, "old_price", d.OldPrice, "link", d.Record.Link)
	}
	logger.Info("search reconciled",
		"pages", crawl.Pages,
		"records", len(crawl.Records),
		"new", counts[reconcile.New],
		"changed", counts[reconcile.Changed],
		"missing", counts[reconcile.Missing],
	)
	return res
}

// clearDelta removes a stale delta file so downstream readers see no changes
// for a search that was not reconciled this run.
func (p *Pipeline) clearDelta(logger *slog.Logger, name string) {
	if err := p.store.SaveDelta(name, nil); err != nil {
		logger.Warn("could not clear stale delta", "error", err)
	}
}
