package webcache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseWarmList(t *testing.T) {
	input := `apiVersion: pulsar/v1
kind: WarmList
pages:
  - https://example.com/
  - http://go.dev/doc
`
	list, err := ParseWarmList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseWarmList failed: %v", err)
	}
	if len(list.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(list.Pages))
	}
	if list.Pages[0] != "https://example.com/" {
		t.Fatalf("unexpected first page: %q", list.Pages[0])
	}
}

func TestParseWarmList_Empty(t *testing.T) {
	if _, err := ParseWarmList(strings.NewReader("pages: []\n")); err == nil {
		t.Fatal("expected empty warm list to be rejected")
	}
}

func TestParseWarmList_BadScheme(t *testing.T) {
	input := `pages:
  - ftp://example.com/file
`
	if _, err := ParseWarmList(strings.NewReader(input)); err == nil {
		t.Fatal("expected non-http URL to be rejected")
	}
}

func TestLoadWarmList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warm.yaml")
	content := "pages:\n  - https://example.com/\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write warm list: %v", err)
	}

	list, err := LoadWarmList(path)
	if err != nil {
		t.Fatalf("LoadWarmList failed: %v", err)
	}
	if len(list.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(list.Pages))
	}
}

func TestExampleWarmListParses(t *testing.T) {
	list, err := ParseWarmList(strings.NewReader(ExampleWarmList()))
	if err != nil {
		t.Fatalf("example warm list should parse: %v", err)
	}
	if len(list.Pages) == 0 {
		t.Fatal("example warm list should name at least one page")
	}
}

func TestWarm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "warmed")
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Options{})
	ctx := context.Background()

	list := &WarmList{Pages: []string{srv.URL + "/a", srv.URL + "/b"}}

	report, err := f.Warm(ctx, list)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if report.Fetched != 2 || report.Cached != 0 || len(report.Failed) != 0 {
		t.Fatalf("unexpected first report: %+v", report)
	}

	report, err = f.Warm(ctx, list)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if report.Fetched != 0 || report.Cached != 2 {
		t.Fatalf("expected second run to hit the cache, got %+v", report)
	}
}

func TestWarm_ContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "alive")
	}))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	f, _ := newTestFetcher(t, Options{})

	list := &WarmList{Pages: []string{deadURL, srv.URL}}
	report, err := f.Warm(context.Background(), list)
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if report.Fetched != 1 {
		t.Fatalf("expected the live page to be fetched, got %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0] != deadURL {
		t.Fatalf("expected the dead URL to be reported, got %+v", report.Failed)
	}
}
