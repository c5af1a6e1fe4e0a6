package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sigman78/archivist/internal/capture"
	"github.com/sigman78/archivist/internal/store"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, string) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	// capture.Client always speaks https and, having no Transport of its
	// own, sends through http.DefaultTransport; point that at the TLS
	// test server's trusting transport so the network tests reach srv.
	orig := http.DefaultTransport
	http.DefaultTransport = srv.Client().Transport
	t.Cleanup(func() { http.DefaultTransport = orig })

	client := capture.New(srv.Listener.Addr().String(), capture.Credentials{LoggedInUser: "u", LoggedInSig: "s"}, "archivist-test/1.0", rate.NewLimiter(rate.Inf, 1))

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "assets.db"), dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f, err := New(client, st, Config{Domain: "ex.com", Concurrency: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.Release)
	return f, dir
}

func TestFetchOneCacheHitMaterializesWithoutNetwork(t *testing.T) {
	f, dir := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected network call for a cache hit: %s", r.URL)
	})

	assetURL := "https://ex.com/logo.png"
	ts := "20230101000000"
	archiveKey := f.client.ArchiveURL(assetURL, ts)

	asset, _, err := f.store.SaveNewBytes(archiveKey, assetURL, strings.NewReader("hello"), "ex.com/20230101000000/assets/logo.png", "ex.com", ts)
	if err != nil {
		t.Fatalf("seed SaveNewBytes: %v", err)
	}
	if asset.SizeBytes != 5 {
		t.Fatalf("seed size = %d", asset.SizeBytes)
	}

	result := f.FetchOne(context.Background(), assetURL, ts, "other.com/20230101000000/assets/logo.png")
	if result.Outcome != OutcomeDedup {
		t.Fatalf("Outcome = %v, err=%v", result.Outcome, result.Err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "other.com/20230101000000/assets/logo.png"))
	if err != nil {
		t.Fatalf("read materialized: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("materialized content = %q", data)
	}
}

// TestFetchOneNotFoundDistinctFromSizeSkip locks in that a 404 from the
// archive is reported as OutcomeNotFound, not OutcomeSkipped, so the
// Page Processor can tell a not-archived asset apart from one dropped
// by the size gate.
func TestFetchOneNotFoundDistinctFromSizeSkip(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result := f.FetchOne(context.Background(), "https://ex.com/missing.png", "20230101000000", "ex.com/20230101000000/assets/missing.png")
	if result.Outcome != OutcomeNotFound {
		t.Fatalf("Outcome = %v, want OutcomeNotFound", result.Outcome)
	}
}

// TestFetchOnePacesBetweenRealDownloads checks that AssetDelay imposes
// a gap between two non-cache-hit downloads.
func TestFetchOnePacesBetweenRealDownloads(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	})
	f.cfg.AssetDelay = 50 * time.Millisecond

	start := time.Now()
	r1 := f.FetchOne(context.Background(), "https://ex.com/a.png", "20230101000000", "ex.com/20230101000000/assets/a.png")
	r2 := f.FetchOne(context.Background(), "https://ex.com/b.png", "20230101000000", "ex.com/20230101000000/assets/b.png")
	elapsed := time.Since(start)

	if r1.Outcome != OutcomeFetched || r2.Outcome != OutcomeFetched {
		t.Fatalf("outcomes = %v, %v", r1.Outcome, r2.Outcome)
	}
	if elapsed < f.cfg.AssetDelay {
		t.Errorf("elapsed = %v, want at least %v between downloads", elapsed, f.cfg.AssetDelay)
	}
}
