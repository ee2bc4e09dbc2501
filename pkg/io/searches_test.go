package io

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/geniass/searchwatch/pkg/scraper"
)

func writeSearches(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inputURLS.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSearches(t *testing.T) {
	path := writeSearches(t, `URL,FileName,Send to Emails
https://www.imot.bg/pcgi/imot.cgi?act=3&f1=1,lozenets.csv,a@example.com; b@example.com
https://www.imot.bg/pcgi/imot.cgi?act=3&f1=1&x=2,mladost,"c@example.com, d@example.com"

https://example.com/search,nobody,
`)

	got, err := LoadSearches(path)
	if err != nil {
		t.Fatal(err)
	}
	expected := []scraper.TrackedSearch{
		{Name: "lozenets", URL: "https://www.imot.bg/pcgi/imot.cgi?act=3&f1=1", Subscribers: []string{"a@example.com", "b@example.com"}},
		{Name: "mladost", URL: "https://www.imot.bg/pcgi/imot.cgi?act=3&f1=1&x=2", Subscribers: []string{"c@example.com", "d@example.com"}},
		{Name: "nobody", URL: "https://example.com/search"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("wrong searches:\ngot      %+v\nexpected %+v", got, expected)
	}
}

func TestLoadSearchesEmailHeaderAlias(t *testing.T) {
	path := writeSearches(t, "\ufeffName,URL,Email\nflats,https://example.com,x@example.com\n")
	got, err := LoadSearches(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "flats" || !reflect.DeepEqual(got[0].Subscribers, []string{"x@example.com"}) {
		t.Errorf("unexpected %+v", got)
	}
}

func TestLoadSearchesErrors(t *testing.T) {
	cases := map[string]string{
		"no header columns": "Foo,Bar\n1,2\n",
		"empty file":        "",
		"missing url":       "URL,FileName\n,flats\n",
		"colliding files":   "URL,FileName\nhttps://a,my flats\nhttps://b,my/flats\n",
	}
	for name, content := range cases {
		_, err := LoadSearches(writeSearches(t, content))
		if !errors.Is(err, ErrInvalidSearches) {
			t.Errorf("%s: expected ErrInvalidSearches, got %v", name, err)
		}
	}

	if _, err := LoadSearches(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestSplitEmails(t *testing.T) {
	cases := map[string][]string{
		"a@x.io; b@x.io":  {"a@x.io", "b@x.io"},
		"a@x.io,b@x.io ,": {"a@x.io", "b@x.io"},
		"a@x.io;b,c@x.io": {"a@x.io", "b,c@x.io"},
		"  ":              nil,
	}
	for in, expected := range cases {
		if got := SplitEmails(in); !reflect.DeepEqual(got, expected) {
			t.Errorf("%q: got %v expected %v", in, got, expected)
		}
	}
}
