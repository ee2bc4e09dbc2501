package web

import (
	"embed"
	"html/template"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/geniass/searchwatch/pkg/history"
	dataio "github.com/geniass/searchwatch/pkg/io"
	"github.com/geniass/searchwatch/pkg/logging"
	"github.com/geniass/searchwatch/pkg/reconcile"
)

//go:embed templates
var templatesFs embed.FS

type BaseContext struct {
	PathPrefix string
	// Static renders links for a directory of html files instead of the server routes.
	Static      bool
	Title       string
	LastUpdated time.Time
}

func (c BaseContext) FormattedLastUpdated() string {
	loc, err := time.LoadLocation("Europe/Sofia")
	if err != nil {
		loc = time.UTC
	}
	return c.LastUpdated.In(loc).Format("2006-01-02T15:04:05 MST")
}

// SearchHref links to the page of a tracked search.
func (c BaseContext) SearchHref(name string) string {
	if c.Static {
		file, err := dataio.FileName(name)
		if err != nil {
			return "#"
		}
		return c.PathPrefix + "/searches/" + url.PathEscape(strings.TrimSuffix(file, ".csv")) + ".html"
	}
	return c.PathPrefix + "/searches/" + url.PathEscape(name)
}

// SearchSummary is one row of the index page.
type SearchSummary struct {
	Name        string
	Records     int
	Changes     int
	Subscribers int
}

type IndexContext struct {
	BaseContext
	Searches  []SearchSummary
	Runs      []history.RunRecord
	State     string
	Next      time.Time
	Executing bool
	CanRun    bool
}

type SearchContext struct {
	BaseContext
	URL     string
	Entries []reconcile.Entry
	Delta   []reconcile.Entry
}

type LogContext struct {
	BaseContext
	Events []logging.Event
}

func RenderIndex(w io.Writer, c IndexContext) error {
	return render(w, "templates/index.html.tpl", c)
}

func RenderSearch(w io.Writer, c SearchContext) error {
	return render(w, "templates/search.html.tpl", c)
}

func RenderLog(w io.Writer, c LogContext) error {
	return render(w, "templates/log.html.tpl", c)
}

func render(w io.Writer, page string, c any) error {
	t, err := template.ParseFS(templatesFs, page)
	if err != nil {
		return err
	}
	t, err = t.ParseFS(templatesFs, "templates/common/*")
	if err != nil {
		return err
	}

	return t.Execute(w, c)
}
