// Package report renders the plain-text change summary mailed to subscribers.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"text/template"

	"github.com/geniass/searchwatch/pkg/reconcile"
	"github.com/geniass/searchwatch/pkg/scraper"
)

// local@label.label..., every domain label non-empty
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s.]+(\.[^@\s.]+)+$`)

var reportTemplate = template.Must(template.New("reportTemplate").Parse(
	`Hello,

Here are the results for your tracked property searches:
{{ range . }}  - {{ .Name }}:
{{ range .Lines }}    - {{ . }}
{{ else }}    - No new records or price changes found.
{{ end }}{{ end }}
Have a great day.`,
))

// Section is the outcome of one search as seen by the report.
type Section struct {
	Name   string
	Deltas []reconcile.Delta
	// Reconciled is false when the search was not crawled or not persisted
	// this run. Such a section reports no changes.
	Reconciled bool
}

// Subscription lists the searches one address follows, in file order.
type Subscription struct {
	Email    string
	Searches []string
}

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// Recipients groups searches by subscriber. Addresses keep the order of their
// first appearance; invalid addresses are logged and skipped.
func Recipients(searches []scraper.TrackedSearch, logger *slog.Logger) []Subscription {
	if logger == nil {
		logger = slog.Default()
	}

	var subs []Subscription
	index := make(map[string]int)
	for _, s := range searches {
		for _, email := range s.Subscribers {
			if !ValidEmail(email) {
				logger.Warn("skipping invalid subscriber address", "search", s.Name, "email", email)
				continue
			}
			key := strings.ToLower(email)
			i, ok := index[key]
			if !ok {
				i = len(subs)
				index[key] = i
				subs = append(subs, Subscription{Email: email})
			}
			if !contains(subs[i].Searches, s.Name) {
				subs[i].Searches = append(subs[i].Searches, s.Name)
			}
		}
	}
	return subs
}

// Line formats one delta. Unchanged deltas have no line.
func Line(d reconcile.Delta) string {
	title := d.Record.Title
	if title == "" {
		title = "Property"
	}
	link := d.Record.Link
	if link == "" {
		link = "#"
	}

	switch d.Kind {
	case reconcile.New:
		return fmt.Sprintf("New Add: %s price: %s (%s)", title, d.Record.Price, link)
	case reconcile.Changed:
		return fmt.Sprintf("Price Update: %s price updated to: %s from: %s (%s)", title, d.Record.Price, d.OldPrice, link)
	case reconcile.Missing:
		return fmt.Sprintf("Removed: %s last price: %s (%s)", title, d.OldPrice, link)
	default:
		return ""
	}
}

type renderedSection struct {
	Name  string
	Lines []string
}

// Render writes the report for the given sections, in order.
func Render(w io.Writer, sections []Section) error {
	data := make([]renderedSection, 0, len(sections))
	for _, s := range sections {
		rs := renderedSection{Name: s.Name}
		if s.Reconciled {
			for _, d := range s.Deltas {
				if l := Line(d); l != "" {
					rs.Lines = append(rs.Lines, l)
				}
			}
		}
		data = append(data, rs)
	}
	return reportTemplate.Execute(w, data)
}

// String renders the report into a string.
func String(sections []Section) (string, error) {
	var b strings.Builder
	if err := Render(&b, sections); err != nil {
		return "", err
	}
	return b.String(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
