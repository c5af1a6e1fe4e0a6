// Package fetch implements the Asset Fetcher: it resolves each asset
// reference to a snapshot timestamp, consults the Asset Store for a
// cache hit, and otherwise downloads and stores the bytes.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/sigman78/archivist/internal/capture"
	"github.com/sigman78/archivist/internal/store"
	"github.com/sigman78/archivist/internal/urlkit"
)

// Outcome tags how a single asset fetch was resolved.
type Outcome string

const (
	OutcomeFetched  Outcome = "fetched"
	OutcomeDedup    Outcome = "dedup"    // cache hit, materialized from an existing file
	OutcomeSkipped  Outcome = "skipped"  // exceeded MaxAssetBytes
	OutcomeNotFound Outcome = "notfound" // archive has no snapshot of this asset (404/410)
	OutcomeError    Outcome = "error"
)

// Result reports what happened fetching one asset.
type Result struct {
	URL              string
	Outcome          Outcome
	Bytes            int64
	ContentDuplicate bool // SaveNewBytes found these bytes already stored under a different URL
	Err              error
}

// SkippedAsset mirrors spec.md §6's skipped-asset manifest entry.
type SkippedAsset struct {
	URL    string
	Reason string
}

// Summary aggregates a batch of Results into the dedup counters
// spec.md §4.5 step 6 attaches to a page's FetchResult.
type Summary struct {
	Fetched             int
	CacheHits           int
	ContentDuplicates   int
	NotFound            int
	SizeSkipped         int
	Errors              int
	BandwidthSavedBytes int64
}

// Summarize folds a FetchAll batch into a Summary. Cache hits skip the
// download entirely; content duplicates are downloaded but not stored
// a second time. Both count toward BandwidthSavedBytes.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case OutcomeFetched:
			s.Fetched++
			if r.ContentDuplicate {
				s.ContentDuplicates++
				s.BandwidthSavedBytes += r.Bytes
			}
		case OutcomeDedup:
			s.CacheHits++
			s.BandwidthSavedBytes += r.Bytes
		case OutcomeNotFound:
			s.NotFound++
		case OutcomeSkipped:
			s.SizeSkipped++
		case OutcomeError:
			s.Errors++
		}
	}
	return s
}

// Config parametrizes the Fetcher.
type Config struct {
	Domain         string
	MaxAssetBytes  int64         // 0 disables the size gate
	Concurrency    int           // realized via an ants.Pool; spec fixes this at 1
	DownloadCSSURL bool          // not read by the Fetcher: url()/@import links inside fetched CSS are not crawled
	AssetDelay     time.Duration // fixed pacing gap between real downloads; cache hits are exempt
}

// Fetcher downloads referenced assets into the snapshot tree, deduping
// through the Asset Store, resolving shared-asset timestamps through a
// TimestampIndex, and pacing requests through the shared capture.Client
// rate limiter plus its own AssetDelay gap.
type Fetcher struct {
	client *capture.Client
	store  *store.Store
	cfg    Config
	pool   *ants.Pool
	tsIdx  *TimestampIndex

	paceMu    sync.Mutex
	lastFetch time.Time
}

// New builds a Fetcher. The worker pool is sized by cfg.Concurrency;
// the spec currently requires this to be fixed at 1 for politeness,
// but the pool exists so that constraint can be relaxed without a
// structural change to the Fetcher.
func New(client *capture.Client, st *store.Store, cfg Config) (*Fetcher, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("fetch: worker pool: %w", err)
	}
	return &Fetcher{client: client, store: st, cfg: cfg, pool: pool, tsIdx: NewTimestampIndex()}, nil
}

// Release stops the worker pool.
func (f *Fetcher) Release() { f.pool.Release() }

// pace enforces the fixed asset_delay_ms gap between successive real
// downloads (spec.md §4.5 step 5). Cache hits never call this, so they
// don't consume pacing.
func (f *Fetcher) pace(ctx context.Context) error {
	if f.cfg.AssetDelay <= 0 {
		return nil
	}
	f.paceMu.Lock()
	wait := time.Until(f.lastFetch.Add(f.cfg.AssetDelay))
	if wait > 0 {
		f.paceMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		f.paceMu.Lock()
	}
	f.lastFetch = time.Now()
	f.paceMu.Unlock()
	return nil
}

// FetchOne resolves and (if needed) downloads one asset at timestamp
// ts, storing it at targetPath (relative to the snapshot root).
func (f *Fetcher) FetchOne(ctx context.Context, assetURL, ts, targetPath string) Result {
	ts = f.tsIdx.Resolve(assetURL, ts)
	archiveKey := f.client.ArchiveURL(assetURL, ts)

	if existing, ok, err := f.store.Lookup(archiveKey); err == nil && ok {
		if err := f.store.Materialize(existing, targetPath); err != nil {
			return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
		}
		if err := f.store.IncrementUse(archiveKey); err != nil {
			return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
		}
		f.tsIdx.Register(assetURL, ts)
		return Result{URL: assetURL, Outcome: OutcomeDedup, Bytes: existing.SizeBytes}
	}

	if err := f.pace(ctx); err != nil {
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}

	asset, err := f.client.GetRaw(ctx, assetURL, ts)
	if err != nil {
		if se, ok := err.(*capture.StatusError); ok {
			switch se.Kind {
			case capture.KindNotFound:
				return Result{URL: assetURL, Outcome: OutcomeNotFound, Err: se}
			case capture.KindRateLimited:
				return f.retryAfterRateLimit(ctx, assetURL, ts, targetPath, se)
			}
		}
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}
	defer func() { _ = asset.Body.Close() }()

	if f.cfg.MaxAssetBytes > 0 && asset.ContentLength > f.cfg.MaxAssetBytes {
		return Result{URL: assetURL, Outcome: OutcomeSkipped, Err: fmt.Errorf("asset size %d exceeds limit %d", asset.ContentLength, f.cfg.MaxAssetBytes)}
	}

	domain, err := urlkit.Domain(assetURL)
	if err != nil {
		domain = f.cfg.Domain
	}
	stored, dup, err := f.store.SaveNewBytes(archiveKey, assetURL, asset.Body, targetPath, domain, ts)
	if err != nil {
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}
	f.tsIdx.Register(assetURL, ts)
	return Result{URL: assetURL, Outcome: OutcomeFetched, Bytes: stored.SizeBytes, ContentDuplicate: dup}
}

// retryAfterRateLimit honours a single 429 retry per spec.md §7, then
// escalates to an error outcome.
func (f *Fetcher) retryAfterRateLimit(ctx context.Context, assetURL, ts, targetPath string, se *capture.StatusError) Result {
	delay := capture.RetryDelay(0, se)
	select {
	case <-ctx.Done():
		return Result{URL: assetURL, Outcome: OutcomeError, Err: ctx.Err()}
	case <-time.After(delay):
	}

	if err := f.pace(ctx); err != nil {
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}

	asset, err := f.client.GetRaw(ctx, assetURL, ts)
	if err != nil {
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}
	defer func() { _ = asset.Body.Close() }()

	if f.cfg.MaxAssetBytes > 0 && asset.ContentLength > f.cfg.MaxAssetBytes {
		return Result{URL: assetURL, Outcome: OutcomeSkipped, Err: fmt.Errorf("asset size %d exceeds limit %d", asset.ContentLength, f.cfg.MaxAssetBytes)}
	}

	domain, err := urlkit.Domain(assetURL)
	if err != nil {
		domain = f.cfg.Domain
	}
	archiveKey := f.client.ArchiveURL(assetURL, ts)
	stored, dup, err := f.store.SaveNewBytes(archiveKey, assetURL, asset.Body, targetPath, domain, ts)
	if err != nil {
		return Result{URL: assetURL, Outcome: OutcomeError, Err: err}
	}
	f.tsIdx.Register(assetURL, ts)
	return Result{URL: assetURL, Outcome: OutcomeFetched, Bytes: stored.SizeBytes, ContentDuplicate: dup}
}

// Job is one unit of work submitted to FetchAll.
type Job struct {
	AssetURL   string
	Timestamp  string
	TargetPath string
}

// FetchAll runs every job through the Fetcher's worker pool and
// collects results in submission order. Concurrency is bounded by
// cfg.Concurrency (currently always 1), so calls are effectively
// sequential — the pool exists to make relaxing that bound a
// configuration change, not a rewrite.
func (f *Fetcher) FetchAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		err := f.pool.Submit(func() {
			defer wg.Done()
			results[i] = f.FetchOne(ctx, job.AssetURL, job.Timestamp, job.TargetPath)
		})
		if err != nil {
			results[i] = Result{URL: job.AssetURL, Outcome: OutcomeError, Err: err}
			wg.Done()
		}
	}
	wg.Wait()
	return results
}
