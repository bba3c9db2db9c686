package retrieve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseSourceList(t *testing.T) {
	input := `
# papers to ingest
https://arxiv.org/pdf/1706.03762

  /data/local.pdf
# trailing comment
https://example.com/b.pdf
`
	got, err := ParseSourceList(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := "[https://arxiv.org/pdf/1706.03762 /data/local.pdf https://example.com/b.pdf]"
	if fmt.Sprint(got) != want {
		t.Errorf("expected %s, got %v", want, got)
	}
}

func TestCacheName(t *testing.T) {
	a := CacheName("https://example.com/a.pdf")
	if len(a) != 20 || !strings.HasSuffix(a, ".pdf") {
		t.Errorf("unexpected cache name %q", a)
	}
	if a != CacheName("https://example.com/a.pdf") {
		t.Error("expected stable cache name")
	}
	if a == CacheName("https://example.com/b.pdf") {
		t.Error("expected distinct cache names")
	}
	// sha1("abc") = a9993e364706816aba3e25717850c26c9cd0d89d
	if got := CacheName("abc"); got != "a9993e364706816a.pdf" {
		t.Errorf("unexpected cache name %q", got)
	}
}

func TestIsURL(t *testing.T) {
	for src, want := range map[string]bool{
		"https://example.com/a.pdf": true,
		"http://localhost:8080/x":   true,
		"/tmp/a.pdf":                false,
		"paper.pdf":                 false,
		"ftp://example.com/a.pdf":   false,
		"https://":                  false,
	} {
		if got := IsURL(src); got != want {
			t.Errorf("IsURL(%q) = %v", src, got)
		}
	}
}

func newTestFetcher(t *testing.T) *Fetcher {
	return NewFetcher(Config{CacheDir: t.TempDir(), Attempts: 3, Delay: time.Millisecond})
}

func TestFetch_DownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "%PDF-1.4 fake")
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	src := srv.URL + "/paper.pdf"
	for i := 0; i < 2; i++ {
		path, err := f.Fetch(context.Background(), src)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if filepath.Base(path) != CacheName(src) {
			t.Errorf("unexpected path %s", path)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "%PDF-1.4 fake" {
			t.Errorf("unexpected content %q", data)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	if _, err := newTestFetcher(t).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf")

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rerr.Source != srv.URL+"/missing.pdf" {
		t.Errorf("unexpected source %s", rerr.Source)
	}
	if hits.Load() != 1 {
		t.Errorf("expected no retries for 404, got %d requests", hits.Load())
	}
	if entries, _ := os.ReadDir(f.cacheDir); len(entries) != 0 {
		t.Errorf("expected empty cache after failure, found %d entries", len(entries))
	}
}

func TestFetch_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t)
	got, err := f.Fetch(context.Background(), path)
	if err != nil || got != path {
		t.Errorf("expected %s, got %s, %v", path, got, err)
	}

	var rerr *Error
	if _, err := f.Fetch(context.Background(), filepath.Join(dir, "missing.pdf")); !errors.As(err, &rerr) {
		t.Errorf("expected *Error for missing file, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), dir); !errors.As(err, &rerr) {
		t.Errorf("expected *Error for directory, got %v", err)
	}
}

func TestFetch_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestFetcher(t).Fetch(ctx, srv.URL); err == nil {
		t.Error("expected error for cancelled context")
	}
}
