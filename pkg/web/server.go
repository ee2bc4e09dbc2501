package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/geniass/searchwatch/pkg/history"
	"github.com/geniass/searchwatch/pkg/logging"
	"github.com/geniass/searchwatch/pkg/pipeline"
	"github.com/geniass/searchwatch/pkg/reconcile"
	"github.com/geniass/searchwatch/pkg/scheduler"
	"github.com/geniass/searchwatch/pkg/scraper"
)

const recentRuns = 20

// SnapshotReader is the read side of the snapshot store.
type SnapshotReader interface {
	Load(name string) (*reconcile.Snapshot, error)
	LoadDelta(name string) ([]reconcile.Entry, error)
	SnapshotPath(name string) (string, error)
}

type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.RunRecord, error)
}

// Runner starts on-demand runs and reports the scheduler state.
type Runner interface {
	TryRun(ctx context.Context) error
	State() scheduler.State
	Executing() bool
	Next() time.Time
}

// Config wires the viewer. History, Hub, Runner and Metrics are optional.
type Config struct {
	Searches   pipeline.SearchSource
	Store      SnapshotReader
	History    RunLister
	Hub        *logging.Hub
	Runner     Runner
	Metrics    http.Handler
	PathPrefix string
	Logger     *slog.Logger
}

type server struct {
	Config
}

// NewHandler returns the viewer routes.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{Config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/searches/{name}", s.handleSearch)
	r.Get("/log", s.handleLog)
	r.Get("/healthz", s.handleHealth)
	if cfg.Runner != nil {
		r.Post("/run", s.handleRun)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func (s *server) base(title string) BaseContext {
	return BaseContext{PathPrefix: s.PathPrefix, Title: title}
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	searches, err := s.Searches()
	if err != nil {
		s.fail(w, "could not load tracked searches", err)
		return
	}
	summaries, updated, err := Summaries(searches, s.Store)
	if err != nil {
		s.fail(w, "could not load snapshots", err)
		return
	}

	c := IndexContext{BaseContext: s.base("Tracked searches"), Searches: summaries, State: scheduler.Stopped.String()}
	c.LastUpdated = updated
	if s.History != nil {
		if c.Runs, err = s.History.Recent(r.Context(), recentRuns); err != nil {
			s.Logger.Warn("could not load run history", "error", err)
		}
	}
	if s.Runner != nil {
		st := s.Runner.State()
		c.State, c.Next, c.Executing = st.String(), s.Runner.Next(), s.Runner.Executing()
		c.CanRun = st == scheduler.Stopped && !c.Executing
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderIndex(w, c); err != nil {
		s.Logger.Error("render index", "error", err)
	}
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	searches, err := s.Searches()
	if err != nil {
		s.fail(w, "could not load tracked searches", err)
		return
	}
	var found *scraper.TrackedSearch
	for i := range searches {
		if searches[i].Name == name {
			found = &searches[i]
			break
		}
	}
	if found == nil {
		http.Error(w, "unknown search", http.StatusNotFound)
		return
	}

	c, err := LoadSearch(*found, s.Store)
	if err != nil {
		s.fail(w, "could not load snapshot", err)
		return
	}
	c.BaseContext.PathPrefix = s.PathPrefix

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderSearch(w, c); err != nil {
		s.Logger.Error("render search", "search", name, "error", err)
	}
}

func (s *server) handleLog(w http.ResponseWriter, r *http.Request) {
	c := LogContext{BaseContext: s.base("Log")}
	if s.Hub != nil {
		c.Events = s.Hub.Recent()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderLog(w, c); err != nil {
		s.Logger.Error("render log", "error", err)
	}
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	err := s.Runner.TryRun(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, scheduler.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.fail(w, "could not start run", err)
		return
	}
	s.Logger.Info("on-demand run accepted", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.Runner != nil {
		resp["scheduler"] = s.Runner.State().String()
		resp["executing"] = s.Runner.Executing()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) fail(w http.ResponseWriter, msg string, err error) {
	s.Logger.Error(msg, "error", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Summaries loads the index rows for searches and the time the newest
// snapshot was written.
func Summaries(searches []scraper.TrackedSearch, store SnapshotReader) ([]SearchSummary, time.Time, error) {
	var (
		out     = make([]SearchSummary, 0, len(searches))
		updated time.Time
	)
	for _, ts := range searches {
		snap, err := store.Load(ts.Name)
		if err != nil {
			return nil, time.Time{}, err
		}
		delta, err := store.LoadDelta(ts.Name)
		if err != nil {
			return nil, time.Time{}, err
		}
		if t := modTime(store, ts.Name); t.After(updated) {
			updated = t
		}
		out = append(out, SearchSummary{
			Name:        ts.Name,
			Records:     snap.Len(),
			Changes:     len(delta),
			Subscribers: len(ts.Subscribers),
		})
	}
	return out, updated, nil
}

// LoadSearch loads the page of one tracked search.
func LoadSearch(ts scraper.TrackedSearch, store SnapshotReader) (SearchContext, error) {
	snap, err := store.Load(ts.Name)
	if err != nil {
		return SearchContext{}, err
	}
	delta, err := store.LoadDelta(ts.Name)
	if err != nil {
		return SearchContext{}, err
	}
	return SearchContext{
		BaseContext: BaseContext{Title: ts.Name, LastUpdated: modTime(store, ts.Name)},
		URL:         ts.URL,
		Entries:     snap.Entries(),
		Delta:       delta,
	}, nil
}

func modTime(store SnapshotReader, name string) time.Time {
	path, err := store.SnapshotPath(name)
	if err != nil {
		return time.Time{}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
