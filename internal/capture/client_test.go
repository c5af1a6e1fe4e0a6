package capture

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	host := srv.Listener.Addr().String()
	c := New(host, Credentials{LoggedInUser: "u", LoggedInSig: "s"}, "archivist-test/1.0", rate.NewLimiter(rate.Inf, 1))
	c.http.Transport = srv.Client().Transport
	// rewrite pageURL/assetURL/rawURL to use http + the test server host
	c.host = host
	c.scheme = "http"
	return c
}

func TestGetPageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "logged-in-user=u; logged-in-sig=s" {
			t.Errorf("missing cookie header, got %q", got)
		}
		_, _ = w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	body, err := c.GetPage(context.Background(), "https://example.com/", "20230101000000")
	if err != nil {
		t.Fatalf("GetPage error: %v", err)
	}
	if string(body) != "<html>hi</html>" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestGetPageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetPage(context.Background(), "https://example.com/", "20230101000000")
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("expected *StatusError, got %T (%v)", err, err)
	}
	if se.Kind != KindNotFound {
		t.Errorf("Kind = %v, want KindNotFound", se.Kind)
	}
}

// TestGetPageRateLimited exercises GetPage's single 429 retry: the
// server stays rate-limited on both attempts, so GetPage must sleep
// the Retry-After delay once and then surface the second failure.
func TestGetPageRateLimited(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetPage(context.Background(), "https://example.com/", "20230101000000")
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if se.Kind != KindRateLimited {
		t.Errorf("got Kind=%v, want KindRateLimited", se.Kind)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2 (initial + single retry)", hits)
	}
}

func TestGetAssetStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	asset, err := c.GetAsset(context.Background(), "https://example.com/logo.png", "20230101000000")
	if err != nil {
		t.Fatalf("GetAsset error: %v", err)
	}
	defer func() { _ = asset.Body.Close() }()
	data, _ := io.ReadAll(asset.Body)
	if string(data) != "fake-bytes" {
		t.Errorf("unexpected asset body %q", data)
	}
	if asset.ContentType != "image/png" {
		t.Errorf("ContentType = %q", asset.ContentType)
	}
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	se := &StatusError{Kind: KindRateLimited, RetryAfter: 5 * time.Second}
	if got := RetryDelay(0, se); got != 5*time.Second {
		t.Errorf("RetryDelay = %v, want 5s", got)
	}
}

func TestRetryDelayBacksOffExponentially(t *testing.T) {
	if got := RetryDelay(0, nil); got != 5*time.Second {
		t.Errorf("attempt 0 = %v, want 5s", got)
	}
	if got := RetryDelay(1, nil); got != 10*time.Second {
		t.Errorf("attempt 1 = %v, want 10s", got)
	}
	if got := RetryDelay(10, nil); got != 60*time.Second {
		t.Errorf("attempt 10 = %v, want capped 60s", got)
	}
}
