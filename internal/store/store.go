// Package store implements the content-addressed Asset Store: a
// SHA-256-keyed index over downloaded asset bytes, materialized into
// per-snapshot trees via hard links.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StoredAsset mirrors spec.md §3's StoredAsset entity.
type StoredAsset struct {
	WaybackURL      string
	OriginalURL     string
	ContentHash     string
	FilePath        string
	SizeBytes       int64
	MIME            string
	FirstDownloaded time.Time
	DownloadCount   int
	Domain          string
	Timestamp       string
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalAssets     int64
	TotalBytes      int64
	BandwidthSaved  int64 // bytes saved via cache-hit reuse: size_bytes*(download_count-1); content duplicates have their own row and add nothing
}

// Store is the Asset Store. rootDir is the output directory new
// per-snapshot target paths are resolved under; the store itself does
// not care which subtree a path lives in, only that it is a real file
// on the same filesystem (hard links require that).
type Store struct {
	db      *sql.DB
	rootDir string
}

// Open opens (creating if absent) the SQLite-backed asset index at
// dbPath, rooted at rootDir for resolving relative target paths.
func Open(dbPath, rootDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("asset store: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("asset store: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, per spec.md §6 ("concurrent writers are not supported")
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("asset store: apply schema: %w", err)
	}
	return &Store{db: db, rootDir: rootDir}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	wayback_url TEXT NOT NULL UNIQUE,
	original_url TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	file_path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	mime_type TEXT,
	first_downloaded TEXT NOT NULL,
	download_count INTEGER NOT NULL DEFAULT 1,
	domain TEXT,
	timestamp TEXT
);
CREATE INDEX IF NOT EXISTS idx_assets_content_hash ON assets(content_hash);
CREATE INDEX IF NOT EXISTS idx_assets_original_url ON assets(original_url);
`

// Lookup reports whether archiveURL has already been downloaded, and
// returns the existing row when so.
func (s *Store) Lookup(archiveURL string) (*StoredAsset, bool, error) {
	row := s.db.QueryRow(`SELECT wayback_url, original_url, content_hash, file_path, size_bytes,
		COALESCE(mime_type, ''), first_downloaded, download_count, COALESCE(domain, ''), COALESCE(timestamp, '')
		FROM assets WHERE wayback_url = ?`, archiveURL)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func scanAsset(row *sql.Row) (*StoredAsset, error) {
	var a StoredAsset
	var firstDownloaded string
	if err := row.Scan(&a.WaybackURL, &a.OriginalURL, &a.ContentHash, &a.FilePath, &a.SizeBytes,
		&a.MIME, &firstDownloaded, &a.DownloadCount, &a.Domain, &a.Timestamp); err != nil {
		return nil, err
	}
	a.FirstDownloaded, _ = time.Parse(time.RFC3339, firstDownloaded)
	return &a, nil
}

// Materialize hard-links existing's canonical file at targetPath,
// creating parent directories first. On hard-link failure (cross
// device, ACL) it falls back to a byte copy, per spec.md §4.2.
func (s *Store) Materialize(existing *StoredAsset, targetPath string) error {
	abs := s.abs(targetPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("asset store: materialize mkdir: %w", err)
	}
	if _, err := os.Stat(abs); err == nil {
		return nil // already present; materialization is idempotent
	}
	src := s.abs(existing.FilePath)
	if err := os.Link(src, abs); err != nil {
		if copyErr := copyFile(src, abs); copyErr != nil {
			return fmt.Errorf("asset store: materialize %s: link failed (%v), copy failed (%w)", targetPath, err, copyErr)
		}
		fmt.Fprintf(os.Stderr, "asset store: warning: hard link for %s failed (%v), copied instead\n", targetPath, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is a store-managed canonical path
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst) //nolint:gosec // G304: dst is caller-provided, sanitized upstream
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	_, err = io.Copy(out, in)
	return err
}

// IncrementUse bumps download_count for an already-known archiveURL,
// e.g. after a cache-hit Materialize.
func (s *Store) IncrementUse(archiveURL string) error {
	_, err := s.db.Exec(`UPDATE assets SET download_count = download_count + 1 WHERE wayback_url = ?`, archiveURL)
	return err
}

// SaveNewBytes streams src into targetPath (relative to rootDir),
// hashing as it writes, then resolves content-hash dedup: if the
// bytes already exist under a different canonical path, targetPath is
// replaced with a hard link to that canonical file and the row
// records the canonical path; otherwise targetPath itself becomes the
// canonical file. The returned bool reports whether this save turned
// out to be a content duplicate of an already-stored asset, per
// spec.md §4.5 step 6's `dedup.content_duplicates` count.
func (s *Store) SaveNewBytes(archiveURL, originalURL string, src io.Reader, targetPath, domain, ts string) (*StoredAsset, bool, error) {
	abs := s.abs(targetPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, false, fmt.Errorf("asset store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".archivist-*")
	if err != nil {
		return nil, false, fmt.Errorf("asset store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return nil, false, fmt.Errorf("asset store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, false, fmt.Errorf("asset store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return nil, false, fmt.Errorf("asset store: rename: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	now := time.Now().UTC().Format(time.RFC3339)

	var canonicalPath string
	var canonicalSize int64
	row := s.db.QueryRow(`SELECT file_path, size_bytes FROM assets WHERE content_hash = ? LIMIT 1`, hash)
	switch err := row.Scan(&canonicalPath, &canonicalSize); {
	case err == nil && s.abs(canonicalPath) != abs:
		// Content duplicate: drop the just-written file, link to canonical.
		if rmErr := os.Remove(abs); rmErr != nil {
			return nil, false, fmt.Errorf("asset store: remove duplicate: %w", rmErr)
		}
		if linkErr := os.Link(s.abs(canonicalPath), abs); linkErr != nil {
			if copyErr := copyFile(s.abs(canonicalPath), abs); copyErr != nil {
				return nil, false, fmt.Errorf("asset store: link duplicate: %v / copy: %w", linkErr, copyErr)
			}
		}
		asset := &StoredAsset{
			WaybackURL: archiveURL, OriginalURL: originalURL, ContentHash: hash,
			FilePath: canonicalPath, SizeBytes: canonicalSize, FirstDownloaded: time.Now().UTC(),
			DownloadCount: 1, Domain: domain, Timestamp: ts,
		}
		if err := s.insert(asset, now); err != nil {
			return nil, false, err
		}
		return asset, true, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("asset store: hash lookup: %w", err)
	}

	asset := &StoredAsset{
		WaybackURL: archiveURL, OriginalURL: originalURL, ContentHash: hash,
		FilePath: targetPath, SizeBytes: size, FirstDownloaded: time.Now().UTC(),
		DownloadCount: 1, Domain: domain, Timestamp: ts,
	}
	if err := s.insert(asset, now); err != nil {
		return nil, false, err
	}
	return asset, false, nil
}

func (s *Store) insert(a *StoredAsset, now string) error {
	_, err := s.db.Exec(`INSERT INTO assets
		(wayback_url, original_url, content_hash, file_path, size_bytes, mime_type, first_downloaded, download_count, domain, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		a.WaybackURL, a.OriginalURL, a.ContentHash, a.FilePath, a.SizeBytes, a.MIME, now, a.Domain, a.Timestamp)
	if err != nil {
		return fmt.Errorf("asset store: insert: %w", err)
	}
	return nil
}

// Stats returns aggregate counters, including bytes saved via reuse:
// sum(size_bytes * (download_count-1)) per spec.md §4.2.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0),
		COALESCE(SUM(size_bytes * (download_count - 1)), 0) FROM assets`)
	if err := row.Scan(&st.TotalAssets, &st.TotalBytes, &st.BandwidthSaved); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Store) abs(targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(targetPath))
}
