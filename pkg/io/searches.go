package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/geniass/searchwatch/pkg/scraper"
)

var ErrInvalidSearches = errors.New("invalid tracked searches file")

// column aliases accepted in the tracked searches header, lower-cased
var (
	urlColumns   = []string{"url"}
	nameColumns  = []string{"filename", "name"}
	emailColumns = []string{"send to emails", "email", "emails"}
)

// LoadSearches reads the tracked searches file maintained by the management
// front-end. Rows keep their file order.
func LoadSearches(path string) ([]scraper.TrackedSearch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tracked searches: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearches, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidSearches)
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	urlCol, nameCol, emailCol := lookup(header, urlColumns), lookup(header, nameColumns), lookup(header, emailColumns)
	if urlCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("%w: header needs URL and FileName columns, got %v", ErrInvalidSearches, rows[0])
	}

	var (
		searches []scraper.TrackedSearch
		names    = make(map[string]string)
	)
	for n, row := range rows[1:] {
		line := n + 2
		url, name := cell(row, urlCol), strings.TrimSuffix(cell(row, nameCol), ".csv")
		if url == "" && name == "" {
			continue
		}
		if url == "" || name == "" {
			return nil, fmt.Errorf("%w: line %d needs both URL and name", ErrInvalidSearches, line)
		}

		file, err := FileName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSearches, line, err)
		}
		if other, dup := names[file]; dup {
			return nil, fmt.Errorf("%w: line %d: %q and %q share snapshot file %s", ErrInvalidSearches, line, other, name, file)
		}
		names[file] = name

		searches = append(searches, scraper.TrackedSearch{
			Name:        name,
			URL:         url,
			Subscribers: SplitEmails(cell(row, emailCol)),
		})
	}
	return searches, nil
}

// SplitEmails splits a subscriber list on ';' when present, otherwise on ','.
func SplitEmails(s string) []string {
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, e := range strings.Split(s, sep) {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func lookup(header map[string]int, names []string) int {
	for _, n := range names {
		if i, ok := header[n]; ok {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
