package reconcile

import "github.com/geniass/searchwatch/pkg/scraper"

// Kind classifies a record against the previous snapshot.
type Kind int

const (
	Unchanged Kind = iota
	New
	Changed
	Missing
)

func (k Kind) String() string {
	switch k {
	case New:
		return "new"
	case Changed:
		return "changed"
	case Missing:
		return "missing"
	default:
		return "unchanged"
	}
}

// Delta is one classified change. For Missing, Record carries the last
// persisted entry and OldPrice its price.
type Delta struct {
	Kind     Kind
	Record   scraper.Record
	OldPrice string
}

// Reconcile diffs the current crawl against prev. It returns the snapshot to
// persist (exactly the ids of current, first occurrence wins) and the deltas:
// New and Changed in crawl order, then Missing in prev order. Unchanged
// records produce no delta. prev is not modified.
func Reconcile(prev *Snapshot, current []scraper.Record) (*Snapshot, []Delta) {
	next := NewSnapshot()
	var deltas []Delta

	remaining := make(map[string]struct{}, prev.Len())
	for _, e := range prev.Entries() {
		remaining[e.ID] = struct{}{}
	}

	for _, r := range current {
		if next.Has(r.ID) {
			continue
		}

		entry := Entry{ID: r.ID, Price: r.Price, Title: r.Title, Link: r.Link}
		if _, ok := remaining[r.ID]; ok {
			old, _ := prev.Get(r.ID)
			if old.Price != r.Price {
				entry.OldValue = old.Price
				deltas = append(deltas, Delta{Kind: Changed, Record: r, OldPrice: old.Price})
			}
			delete(remaining, r.ID)
		} else {
			entry.OldValue = OldValueNew
			deltas = append(deltas, Delta{Kind: New, Record: r})
		}
		next.Put(entry)
	}

	for _, e := range prev.Entries() {
		if _, ok := remaining[e.ID]; !ok {
			continue
		}
		deltas = append(deltas, Delta{Kind: Missing, Record: e.record(), OldPrice: e.Price})
	}

	return next, deltas
}

// Counts tallies deltas by kind.
func Counts(deltas []Delta) map[Kind]int {
	c := make(map[Kind]int, 3)
	for _, d := range deltas {
		c[d.Kind]++
	}
	return c
}
