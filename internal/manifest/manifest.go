// Package manifest (de)serializes the per-snapshot manifest.json and
// skipped_assets.json files a SnapshotTree carries alongside its
// rewritten pages.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// PageEntry is one processed page recorded in a Manifest.
type PageEntry struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
}

// AssetTotals summarizes the assets materialized into a snapshot tree.
type AssetTotals struct {
	Total           int            `json:"total"`
	ByType          map[string]int `json:"by_type"`
	TotalSizeMB     float64        `json:"total_size_mb"`
	ExternalDomains []string       `json:"external_domains"`
}

// Manifest mirrors spec.md §3's Manifest entity.
type Manifest struct {
	Domain       string      `json:"domain"`
	Timestamp    string      `json:"timestamp"`
	CrawledAt    time.Time   `json:"crawled_at"`
	Pages        []PageEntry `json:"pages"`
	Assets       AssetTotals `json:"assets"`
	SkippedCount int         `json:"skipped_count"`
}

// SkippedAsset mirrors spec.md §3's SkippedAsset entity.
type SkippedAsset struct {
	URL        string  `json:"url"`
	Reason     string  `json:"reason"` // size_limit, fetch_error, invalid_type
	SizeMB     float64 `json:"size_mb,omitempty"`
	ArchiveURL string  `json:"archive_url"`
	Error      string  `json:"error,omitempty"`
}

// Path returns the path to manifest.json inside a snapshot tree rooted
// at treeDir.
func Path(treeDir string) string { return filepath.Join(treeDir, "manifest.json") }

// SkippedPath returns the path to skipped_assets.json.
func SkippedPath(treeDir string) string { return filepath.Join(treeDir, "skipped_assets.json") }

// Load reads and parses manifest.json from treeDir. A missing file is
// not an error: it returns a zero-value Manifest for domain/ts so a
// fresh snapshot tree can be built up incrementally.
func Load(treeDir, domain, timestamp string) (*Manifest, error) {
	data, err := os.ReadFile(Path(treeDir)) //nolint:gosec // G304: treeDir is program-managed
	if os.IsNotExist(err) {
		return &Manifest{
			Domain:    domain,
			Timestamp: timestamp,
			Assets:    AssetTotals{ByType: map[string]int{}},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Assets.ByType == nil {
		m.Assets.ByType = map[string]int{}
	}
	return &m, nil
}

// Save writes the manifest back to treeDir, overwriting any existing
// file (manifest.json is rewritten in full on every page save, per
// spec.md §4.8 step 9).
func (m *Manifest) Save(treeDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(treeDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(Path(treeDir), data, 0o600)
}

// AddPage appends a page entry, replacing any existing entry for the
// same URL so repeated saves within a run stay idempotent.
func (m *Manifest) AddPage(url, localPath string) {
	for i, p := range m.Pages {
		if p.URL == url {
			m.Pages[i].LocalPath = localPath
			return
		}
	}
	m.Pages = append(m.Pages, PageEntry{URL: url, LocalPath: localPath})
}

// AddAsset folds one materialized asset into the running totals.
func (m *Manifest) AddAsset(assetType string, sizeBytes int64, externalHost string) {
	m.Assets.Total++
	if m.Assets.ByType == nil {
		m.Assets.ByType = map[string]int{}
	}
	m.Assets.ByType[assetType]++
	m.Assets.TotalSizeMB += float64(sizeBytes) / (1024 * 1024)
	if externalHost != "" {
		m.addExternalDomain(externalHost)
	}
}

func (m *Manifest) addExternalDomain(host string) {
	for _, h := range m.Assets.ExternalDomains {
		if h == host {
			return
		}
	}
	m.Assets.ExternalDomains = append(m.Assets.ExternalDomains, host)
	sort.Strings(m.Assets.ExternalDomains)
}

// SaveSkipped writes skipped_assets.json when non-empty, per spec.md
// §4.8 step 5. An empty slice removes any previous file rather than
// writing an empty array, keeping the tree's presence of the file
// meaningful.
func SaveSkipped(treeDir string, skipped []SkippedAsset) error {
	if len(skipped) == 0 {
		err := os.Remove(SkippedPath(treeDir))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(skipped, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(treeDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(SkippedPath(treeDir), data, 0o600)
}
