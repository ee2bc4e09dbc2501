// Package reconcile classifies the records of a crawl against the snapshot
// persisted by the previous run.
package reconcile

import "github.com/geniass/searchwatch/pkg/scraper"

// OldValue markers written to the snapshot and delta files.
const OldValueNew = "new"

// Entry is one row of a snapshot.
type Entry struct {
	ID    string
	Price string
	// OldValue is "new" for a new record, the previous price for a changed one
	// and empty otherwise.
	OldValue string
	Title    string
	Link     string
}

// Snapshot maps record ids to their last known entry, keeping insertion order.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

func NewSnapshot() *Snapshot {
	return &Snapshot{index: make(map[string]int)}
}

// Put inserts e, or replaces the entry with the same id in place.
func (s *Snapshot) Put(e Entry) {
	if i, ok := s.index[e.ID]; ok {
		s.entries[i] = e
		return
	}
	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *Snapshot) Get(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s *Snapshot) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in insertion order.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Prices returns the id to price mapping.
func (s *Snapshot) Prices() map[string]string {
	m := make(map[string]string, s.Len())
	for _, e := range s.Entries() {
		m[e.ID] = e.Price
	}
	return m
}

func (e Entry) record() scraper.Record {
	return scraper.Record{ID: e.ID, Title: e.Title, Price: e.Price, Link: e.Link}
}
