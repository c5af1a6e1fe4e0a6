// Package capture implements a thin, authenticated HTTP client for the
// upstream web-archive service. It is the sole component in this
// module that speaks to the archive over the network.
package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const readTimeout = 30 * time.Second

// Credentials holds the auth material required by every request.
type Credentials struct {
	LoggedInUser string // ARCHIVE_LOGGED_IN_USER
	LoggedInSig  string // ARCHIVE_LOGGED_IN_SIG
	S3Access     string // ARCHIVE_S3_ACCESS (optional)
	S3Secret     string // ARCHIVE_S3_SECRET (optional)
}

// Valid reports whether the required fields are present.
func (c Credentials) Valid() bool {
	return c.LoggedInUser != "" && c.LoggedInSig != ""
}

// Client is a authenticated client for one archive host.
type Client struct {
	host      string
	scheme    string
	userAgent string
	creds     Credentials
	limiter   *rate.Limiter
	http      *http.Client
}

// New builds a Client targeting host (e.g. "web.archive.org"). limiter
// paces every outbound request this client makes; it is constructed
// once by the caller (cmd/archivist's run) and shared, never owned
// by the Client itself, per the "no module-level mutable globals"
// design note.
func New(host string, creds Credentials, userAgent string, limiter *rate.Limiter) *Client {
	return &Client{
		host:      host,
		scheme:    "https",
		userAgent: userAgent,
		creds:     creds,
		limiter:   limiter,
		http: &http.Client{
			Timeout:       readTimeout,
			CheckRedirect: checkRedirect,
		},
	}
}

// checkRedirect caps redirect chains at 5 hops and re-applies the
// auth headers/cookie on every hop that stays on the original host —
// the archive's own redirects routinely land on the same host with
// different timestamp prefixes.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("capture: stopped after %d redirects", len(via))
	}
	if len(via) > 0 && req.URL.Host == via[0].URL.Host {
		for k, v := range via[0].Header {
			if k == "Cookie" || k == "Authorization" || k == "User-Agent" {
				req.Header[k] = v
			}
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, fullURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", fmt.Sprintf("logged-in-user=%s; logged-in-sig=%s", c.creds.LoggedInUser, c.creds.LoggedInSig))
	if c.creds.S3Access != "" && c.creds.S3Secret != "" {
		req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", c.creds.S3Access, c.creds.S3Secret))
	}
	return req, nil
}

func (c *Client) pageURL(rawURL, ts string) string {
	return fmt.Sprintf("%s://%s/web/%s/%s", c.scheme, c.host, ts, rawURL)
}

func (c *Client) assetURL(rawURL, ts string) string {
	return c.pageURL(rawURL, ts)
}

func (c *Client) rawURL(rawURL, ts string) string {
	return fmt.Sprintf("%s://%s/web/%sid_/%s", c.scheme, c.host, ts, rawURL)
}

// ArchiveURL forms the canonical archive_url identity used as the
// Asset Store's wayback_url key: "https://{archive}/web/{ts}/{original}",
// unless original is already wrapped in that form, in which case it is
// returned unchanged, per spec.md §4.5 step 1.
func (c *Client) ArchiveURL(rawURL, ts string) string {
	if isWrappedArchiveURL(rawURL) {
		return rawURL
	}
	return c.pageURL(rawURL, ts)
}

func isWrappedArchiveURL(u string) bool {
	return (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) && strings.Contains(u, "/web/")
}

func (c *Client) do(ctx context.Context, fullURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("capture rate limiter: %w", err)
	}
	req, err := c.newRequest(ctx, fullURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transientErr(fullURL, err)
	}
	return resp, nil
}

// GetPage fetches the archived document body for url at ts. The whole
// body is buffered, since the Page Processor needs it entire for
// extraction and rewriting. A single 429 is honoured with a backoff
// sleep before retrying, then the rate limit escalates to an error —
// the same one-retry contract the Asset Fetcher applies per asset.
func (c *Client) GetPage(ctx context.Context, rawURL, ts string) ([]byte, error) {
	full := c.pageURL(rawURL, ts)
	body, se := c.getPageOnce(ctx, full)
	if se != nil && se.Kind == KindRateLimited {
		delay := RetryDelay(0, se)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		body, se = c.getPageOnce(ctx, full)
	}
	if se != nil {
		return nil, se
	}
	return body, nil
}

func (c *Client) getPageOnce(ctx context.Context, full string) ([]byte, *StatusError) {
	resp, err := c.do(ctx, full)
	if err != nil {
		if se, ok := err.(*StatusError); ok {
			return nil, se
		}
		return nil, transientErr(full, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if se := classify(full, resp); se != nil {
		return nil, se
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr(full, err)
	}
	return body, nil
}

// Asset is a streamed asset response. Callers must Close it.
type Asset struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
	ContentType   string
}

// GetAsset streams the archived bytes for an asset URL at ts. The
// caller must Close Asset.Body exactly once.
func (c *Client) GetAsset(ctx context.Context, rawURL, ts string) (*Asset, error) {
	return c.getStream(ctx, c.assetURL(rawURL, ts))
}

// GetRaw is the same as GetAsset but requests the "id_" variant that
// returns original, un-toolbar-wrapped bytes.
func (c *Client) GetRaw(ctx context.Context, rawURL, ts string) (*Asset, error) {
	return c.getStream(ctx, c.rawURL(rawURL, ts))
}

func (c *Client) getStream(ctx context.Context, full string) (*Asset, error) {
	resp, err := c.do(ctx, full)
	if err != nil {
		if se, ok := err.(*StatusError); ok {
			return nil, se
		}
		return nil, err
	}
	if se := classify(full, resp); se != nil {
		_ = resp.Body.Close()
		return nil, se
	}
	return &Asset{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   strings.TrimSpace(resp.Header.Get("Content-Type")),
	}, nil
}

// RetryDelay returns how long to wait before retrying an asset fetch
// after a 429, honouring StatusError.RetryAfter when present and
// falling back to exponential backoff capped at 60s otherwise (the
// same shape as the teacher's CDX retry logic, reused here for the
// Fetcher's single 429 retry per spec.md §7).
func RetryDelay(attempt int, se *StatusError) time.Duration {
	if se != nil && se.RetryAfter > 0 {
		d := se.RetryAfter
		if d > 120*time.Second {
			d = 120 * time.Second
		}
		return d
	}
	d := 5 * time.Second << uint(attempt)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}
