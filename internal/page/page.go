// Package page implements the Page Processor: the per-QueueItem
// pipeline that captures a page, fetches its assets, rewrites it, and
// folds the result into its snapshot tree's manifest.
package page

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sigman78/archivist/internal/capture"
	"github.com/sigman78/archivist/internal/extract"
	"github.com/sigman78/archivist/internal/fetch"
	"github.com/sigman78/archivist/internal/manifest"
	"github.com/sigman78/archivist/internal/queue"
	"github.com/sigman78/archivist/internal/rewrite"
	"github.com/sigman78/archivist/internal/schedule"
	"github.com/sigman78/archivist/internal/urlkit"
)

// Config parametrizes one run of the Page Processor.
type Config struct {
	OutDir                 string
	FetchExternalAssets    bool
	DownloadExternalAssets bool // whether rewritten links for external assets point locally
	MaxAssetBytes          int64
	Canonical              rewrite.CanonicalAction
}

// Processor wires together the components a single page needs.
type Processor struct {
	client    *capture.Client
	fetcher   *fetch.Fetcher
	queue     *queue.Queue
	scheduler *schedule.Scheduler
	cfg       Config
}

// New builds a Processor over already-constructed components.
func New(client *capture.Client, fetcher *fetch.Fetcher, q *queue.Queue, sched *schedule.Scheduler, cfg Config) *Processor {
	return &Processor{client: client, fetcher: fetcher, queue: q, scheduler: sched, cfg: cfg}
}

// Process runs the full per-page pipeline of spec.md §4.8 for one
// queue item. Errors that should mark the item failed (rather than
// bubble as fatal) are reported via a nil error return with the queue
// already transitioned.
func (p *Processor) Process(ctx context.Context, item queue.Item) error {
	if err := p.scheduler.WaitIfNeeded(ctx); err != nil {
		return err
	}

	body, err := p.client.GetPage(ctx, item.URL, item.Timestamp)
	if err != nil {
		return p.queue.MarkFailed(item.URL, item.Timestamp, err.Error())
	}

	refs, err := extract.FromHTML(body, item.URL, item.Domain)
	if err != nil {
		// Non-HTML or malformed body: extraction is a no-op per spec.md
		// §4.8 edge cases, the fetch is still saved below.
		refs = nil
	}
	if !p.cfg.FetchExternalAssets {
		refs = dropExternal(refs)
	}

	treeDir := filepath.Join(p.cfg.OutDir, item.Domain, item.Timestamp)
	m, err := manifest.Load(treeDir, item.Domain, item.Timestamp)
	if err != nil {
		return fmt.Errorf("page: load manifest: %w", err)
	}

	var jobs []fetch.Job
	var targets []assetTarget
	for _, ref := range refs {
		if ref.Kind != extract.KindAsset {
			continue
		}
		logical, external, perr := urlkit.AssetPath(ref.URL, item.Domain)
		if perr != nil {
			continue
		}
		targetPath := filepath.ToSlash(filepath.Join(item.Domain, item.Timestamp, logical))
		jobs = append(jobs, fetch.Job{AssetURL: ref.URL, Timestamp: item.Timestamp, TargetPath: targetPath})
		targets = append(targets, assetTarget{ref: ref, logical: logical, targetPath: targetPath, external: external})
	}

	results := p.fetcher.FetchAll(ctx, jobs)

	var skipped []manifest.SkippedAsset
	for i, res := range results {
		t := targets[i]
		switch res.Outcome {
		case fetch.OutcomeFetched, fetch.OutcomeDedup:
			var externalHost string
			if t.external {
				if u, err := url.Parse(t.ref.URL); err == nil {
					externalHost = u.Hostname()
				}
			}
			m.AddAsset(assetType(t.logical), res.Bytes, externalHost)
		case fetch.OutcomeSkipped:
			skipped = append(skipped, manifest.SkippedAsset{
				URL: t.ref.URL, Reason: "size_limit", ArchiveURL: p.client.ArchiveURL(t.ref.URL, item.Timestamp), Error: errString(res.Err),
			})
		case fetch.OutcomeNotFound, fetch.OutcomeError:
			skipped = append(skipped, manifest.SkippedAsset{
				URL: t.ref.URL, Reason: "fetch_error", ArchiveURL: p.client.ArchiveURL(t.ref.URL, item.Timestamp), Error: errString(res.Err),
			})
		}
	}
	if err := manifest.SaveSkipped(treeDir, skipped); err != nil {
		return fmt.Errorf("page: save skipped assets: %w", err)
	}

	summary := fetch.Summarize(results)
	if summary.CacheHits > 0 || summary.ContentDuplicates > 0 {
		fmt.Fprintf(os.Stderr, "page %s: %d cache hits, %d content duplicates, %.2f MB saved\n",
			item.URL, summary.CacheHits, summary.ContentDuplicates, float64(summary.BandwidthSavedBytes)/(1024*1024))
	}

	localPath := urlkit.PagePath(item.URL)
	docDir := filepath.ToSlash(filepath.Dir(localPath))
	rewritten, err := rewrite.HTML(body, item.URL, rewrite.Options{
		Domain:                 item.Domain,
		DocDir:                 docDir,
		DownloadExternalAssets: p.cfg.DownloadExternalAssets,
		Canonical:              p.cfg.Canonical,
	})
	if err != nil {
		rewritten = body
	}

	for i, res := range results {
		if res.Outcome != fetch.OutcomeFetched && res.Outcome != fetch.OutcomeDedup {
			continue
		}
		t := targets[i]
		if strings.ToLower(filepath.Ext(t.logical)) != ".css" {
			continue
		}
		abs := filepath.Join(p.cfg.OutDir, filepath.FromSlash(t.targetPath))
		if err := rewriteCSSFileInPlace(abs, t.ref.URL, item.Domain, docDirForAsset(t.logical), p.cfg); err != nil {
			continue
		}
	}

	fullPagePath := filepath.Join(p.cfg.OutDir, item.Domain, item.Timestamp, filepath.FromSlash(localPath))
	if err := os.MkdirAll(filepath.Dir(fullPagePath), 0o750); err != nil {
		return fmt.Errorf("page: mkdir: %w", err)
	}
	if err := os.WriteFile(fullPagePath, rewritten, 0o600); err != nil {
		return fmt.Errorf("page: write page: %w", err)
	}

	m.AddPage(item.URL, localPath)
	if err := m.Save(treeDir); err != nil {
		return fmt.Errorf("page: save manifest: %w", err)
	}

	if err := p.queue.MarkCompleted(item.URL, item.Timestamp, localPath); err != nil {
		return fmt.Errorf("page: mark completed: %w", err)
	}

	return p.discoverLinks(refs, item)
}

type assetTarget struct {
	ref        extract.Ref
	logical    string
	targetPath string
	external   bool
}

func dropExternal(refs []extract.Ref) []extract.Ref {
	out := refs[:0]
	for _, r := range refs {
		if !r.IsExternal {
			out = append(out, r)
		}
	}
	return out
}

func assetType(logicalPath string) string {
	switch strings.ToLower(filepath.Ext(logicalPath)) {
	case ".css":
		return "css"
	case ".js":
		return "js"
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp":
		return "image"
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return "font"
	case ".mp4", ".webm", ".mov", ".avi":
		return "video"
	case ".mp3", ".wav", ".ogg", ".flac":
		return "audio"
	default:
		return "other"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// docDirForAsset returns a fetched asset's own directory, tree-relative
// like the rest of rewrite.Options.DocDir — CSS url() references inside
// it are resolved against the asset's location, not the page's.
func docDirForAsset(logicalAssetPath string) string {
	return filepath.ToSlash(filepath.Dir(logicalAssetPath))
}

// rewriteCSSFileInPlace loads a fetched CSS file's stored bytes,
// rewrites its own url()/@import references, and writes it back, per
// spec.md §4.8 step 7.
func rewriteCSSFileInPlace(absPath, cssURL, domain, docDir string, cfg Config) error {
	data, err := os.ReadFile(absPath) //nolint:gosec // G304: absPath is program-managed
	if err != nil {
		return err
	}
	out := rewrite.CSS(data, cssURL, rewrite.Options{
		Domain:                 domain,
		DocDir:                 docDir,
		DownloadExternalAssets: cfg.DownloadExternalAssets,
	})
	return os.WriteFile(absPath, out, 0o600)
}

// discoverLinks implements spec.md §4.8 step 11: same-domain page
// links found in the original body are enqueued at the same
// timestamp, expanding one selection into the full site snapshot.
func (p *Processor) discoverLinks(refs []extract.Ref, item queue.Item) error {
	for _, ref := range refs {
		if ref.Kind != extract.KindLink || ref.IsExternal {
			continue
		}
		if err := p.queue.Add(ref.URL, item.Timestamp, item.Domain); err != nil {
			return fmt.Errorf("page: discover link: %w", err)
		}
	}
	return nil
}
