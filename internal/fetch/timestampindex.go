package fetch

import (
	"net/url"
	"sync"
)

// TimestampIndex remembers, for each asset path seen so far in this
// run, the newest timestamp at which it was successfully fetched.
// Many pages in a snapshot reference the same shared asset (a common
// stylesheet, a site-wide logo); resolving to a previously-successful
// timestamp instead of the literal requesting page's timestamp avoids
// re-requesting a path at a timestamp the archive never actually has
// a capture for.
type TimestampIndex struct {
	mu        sync.Mutex
	byPathQry map[string]string
	byPath    map[string]string
}

// NewTimestampIndex returns an empty index.
func NewTimestampIndex() *TimestampIndex {
	return &TimestampIndex{
		byPathQry: make(map[string]string),
		byPath:    make(map[string]string),
	}
}

// Register records a successful fetch of rawURL at timestamp,
// keeping the lexicographically greatest (newest) timestamp per key.
func (idx *TimestampIndex) Register(rawURL, timestamp string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	pathKey := u.Path
	qryKey := pathKey
	if u.RawQuery != "" {
		qryKey += "?" + u.RawQuery
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if existing, ok := idx.byPathQry[qryKey]; !ok || timestamp > existing {
		idx.byPathQry[qryKey] = timestamp
	}
	if existing, ok := idx.byPath[pathKey]; !ok || timestamp > existing {
		idx.byPath[pathKey] = timestamp
	}
}

// Resolve returns the best known timestamp for assetURL: an exact
// path+query match, then a path-only match, then fallback.
func (idx *TimestampIndex) Resolve(assetURL, fallback string) string {
	u, err := url.Parse(assetURL)
	if err != nil {
		return fallback
	}
	pathKey := u.Path
	qryKey := pathKey
	if u.RawQuery != "" {
		qryKey += "?" + u.RawQuery
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ts, ok := idx.byPathQry[qryKey]; ok {
		return ts
	}
	if ts, ok := idx.byPath[pathKey]; ok {
		return ts
	}
	return fallback
}
