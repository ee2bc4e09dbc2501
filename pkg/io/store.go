package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/geniass/searchwatch/pkg/reconcile"
)

// DeltaPrefix is prepended to a snapshot file name to name its delta file.
const DeltaPrefix = "NewRecords_"

// Header is the first row of every snapshot and delta file.
var Header = []string{"RecordId", "Price", "oldValue", "Title", "Link"}

var safeFilenameReplaceRegex = regexp.MustCompile(`[^\p{L}\p{N}_.-]+`)

var ErrInvalidName = errors.New("search name has no usable characters")

// Store persists one snapshot file and one delta file per tracked search.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

func (s *Store) Dir() string { return s.dir }

// FileName maps a search name to its snapshot file name.
func FileName(name string) (string, error) {
	base := strings.TrimSuffix(strings.TrimSpace(name), ".csv")
	base = strings.Trim(safeFilenameReplaceRegex.ReplaceAllString(base, "-"), "-.")
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base + ".csv", nil
}

func (s *Store) SnapshotPath(name string) (string, error) {
	f, err := FileName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, f), nil
}

func (s *Store) DeltaPath(name string) (string, error) {
	f, err := FileName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, DeltaPrefix+f), nil
}

// Load reads the snapshot of a search. A missing, empty, malformed or
// foreign-format file yields an empty snapshot: it is treated as no history.
func (s *Store) Load(name string) (*reconcile.Snapshot, error) {
	path, err := s.SnapshotPath(name)
	if err != nil {
		return nil, err
	}
	entries, err := s.readTable(path)
	if err != nil {
		return nil, err
	}
	snap := reconcile.NewSnapshot()
	for _, e := range entries {
		if !snap.Has(e.ID) {
			snap.Put(e)
		}
	}
	return snap, nil
}

// LoadDelta reads the delta file of a search. No file means no changes.
func (s *Store) LoadDelta(name string) ([]reconcile.Entry, error) {
	path, err := s.DeltaPath(name)
	if err != nil {
		return nil, err
	}
	return s.readTable(path)
}

// Save atomically replaces the snapshot of a search.
func (s *Store) Save(name string, snap *reconcile.Snapshot) error {
	path, err := s.SnapshotPath(name)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, snap.Len())
	for _, e := range snap.Entries() {
		rows = append(rows, []string{e.ID, e.Price, e.OldValue, e.Title, e.Link})
	}
	if err := writeAtomic(path, rows); err != nil {
		return fmt.Errorf("save snapshot %q: %w", name, err)
	}
	return nil
}

// SaveDelta writes the New and Changed deltas of a search, or removes the
// delta file when there are none.
func (s *Store) SaveDelta(name string, deltas []reconcile.Delta) error {
	path, err := s.DeltaPath(name)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, d := range deltas {
		var old string
		switch d.Kind {
		case reconcile.New:
			old = reconcile.OldValueNew
		case reconcile.Changed:
			old = d.OldPrice
		default:
			continue
		}
		rows = append(rows, []string{d.Record.ID, d.Record.Price, old, d.Record.Title, d.Record.Link})
	}

	if len(rows) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove delta %q: %w", name, err)
		}
		return nil
	}
	if err := writeAtomic(path, rows); err != nil {
		return fmt.Errorf("save delta %q: %w", name, err)
	}
	return nil
}

func (s *Store) readTable(path string) ([]reconcile.Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	rows, err := r.ReadAll()
	if err != nil {
		s.logger.Warn("unreadable snapshot file, treating as no history", "path", path, "error", err)
		return nil, nil
	}
	if len(rows) == 0 || !headerMatches(rows[0]) {
		s.logger.Warn("unrecognized snapshot header, treating as no history", "path", path)
		return nil, nil
	}

	entries := make([]reconcile.Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if row[0] == "" {
			continue
		}
		entries = append(entries, reconcile.Entry{
			ID:       row[0],
			Price:    row[1],
			OldValue: row[2],
			Title:    row[3],
			Link:     row[4],
		})
	}
	return entries, nil
}

func headerMatches(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i := range Header {
		if strings.TrimPrefix(row[i], "\ufeff") != Header[i] {
			return false
		}
	}
	return true
}

// writeAtomic writes the table to a temp file next to path and renames it
// over path, so readers see either the old or the new file.
func writeAtomic(path string, rows [][]string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModeDir|0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := csv.NewWriter(f)
	if err = w.Write(Header); err != nil {
		return err
	}
	if err = w.WriteAll(rows); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
