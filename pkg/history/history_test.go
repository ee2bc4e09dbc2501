package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/geniass/searchwatch/pkg/pipeline"
	"github.com/geniass/searchwatch/pkg/reconcile"
	"github.com/geniass/searchwatch/pkg/scraper"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)

	first := &pipeline.Run{
		ID:         "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Results: []pipeline.SearchResult{
			{
				Search:     scraper.TrackedSearch{Name: "lozenets"},
				Pages:      3,
				Records:    41,
				Crawled:    true,
				Reconciled: true,
				Deltas: []reconcile.Delta{
					{Kind: reconcile.New}, {Kind: reconcile.New}, {Kind: reconcile.Changed}, {Kind: reconcile.Missing},
				},
			},
			{Search: scraper.TrackedSearch{Name: "mladost"}, Err: errors.New("timeout")},
		},
	}
	second := &pipeline.Run{
		ID:         "run-2",
		StartedAt:  start.AddDate(0, 0, 1),
		FinishedAt: start.AddDate(0, 0, 1).Add(time.Second),
		Err:        pipeline.ErrNoOutput,
	}
	for _, r := range []*pipeline.Run{first, second} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	if runs[0].OK || runs[0].Error != pipeline.ErrNoOutput.Error() || len(runs[0].Searches) != 0 {
		t.Errorf("unexpected failed run %+v", runs[0])
	}

	r := runs[1]
	if !r.OK || r.Duration() != 90*time.Second || !r.StartedAt.Equal(start) {
		t.Errorf("unexpected run %+v", r)
	}
	if len(r.Searches) != 2 {
		t.Fatalf("expected 2 searches, got %d", len(r.Searches))
	}
	expected := SearchRecord{Name: "lozenets", Pages: 3, Records: 41, New: 2, Changed: 1, Missing: 1, Reconciled: true}
	if r.Searches[0] != expected {
		t.Errorf("got %+v expected %+v", r.Searches[0], expected)
	}
	if r.Searches[1].Name != "mladost" || r.Searches[1].Reconciled || r.Searches[1].Error != "timeout" {
		t.Errorf("unexpected failed search %+v", r.Searches[1])
	}

	if runs, _ := s.Recent(ctx, 1); len(runs) != 1 {
		t.Errorf("limit not applied: %d", len(runs))
	}
}

func TestRecordDuplicateIDFails(t *testing.T) {
	s := openTestStore(t)
	run := &pipeline.Run{ID: "dup", StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := s.Record(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), run); err == nil {
		t.Error("expected an error for a duplicate run id")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	run := &pipeline.Run{ID: "r", StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := s.Record(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.Recent(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("run not persisted: %v %v", runs, err)
	}
}
