// Package queue implements the durable work queue of (url, timestamp)
// pairs that drives resumable crawling.
package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a QueueItem's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Item mirrors spec.md §3's QueueItem entity.
type Item struct {
	URL          string
	Timestamp    string
	Domain       string
	Status       Status
	LocalPath    string
	Error        string
	DiscoveredAt time.Time
	FetchedAt    *time.Time
}

// Queue is the SQLite-backed work queue. It is process-local: callers
// must not share one *Queue across processes.
type Queue struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS urls (
	url TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	domain TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	local_path TEXT,
	discovered_at TEXT NOT NULL,
	fetched_at TEXT,
	error TEXT,
	PRIMARY KEY (url, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls(status);
`

// Open opens (creating if absent) the SQLite-backed queue at dbPath.
func Open(dbPath string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("queue: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

// Add inserts a new pending item. Re-adding an existing (url, ts) key
// is a no-op that preserves the row's current status, per spec.md §3
// invariant (i).
func (q *Queue) Add(url, ts, domain string) error {
	_, err := q.db.Exec(`INSERT INTO urls (url, timestamp, domain, status, discovered_at)
		VALUES (?, ?, ?, 'pending', ?)
		ON CONFLICT (url, timestamp) DO NOTHING`,
		url, ts, domain, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("queue: add: %w", err)
	}
	return nil
}

// Next returns the oldest pending item (by rowid / insertion order),
// or ok=false when the queue has no pending work.
func (q *Queue) Next() (item Item, ok bool, err error) {
	row := q.db.QueryRow(`SELECT url, timestamp, domain, status, COALESCE(local_path, ''),
		COALESCE(error, ''), discovered_at, fetched_at
		FROM urls WHERE status = 'pending' ORDER BY rowid LIMIT 1`)
	it, scanErr := scanItem(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if scanErr != nil {
		return Item{}, false, fmt.Errorf("queue: next: %w", scanErr)
	}
	return *it, true, nil
}

func scanItem(row *sql.Row) (*Item, error) {
	var it Item
	var status string
	var discoveredAt string
	var fetchedAt sql.NullString
	if err := row.Scan(&it.URL, &it.Timestamp, &it.Domain, &status, &it.LocalPath, &it.Error, &discoveredAt, &fetchedAt); err != nil {
		return nil, err
	}
	it.Status = Status(status)
	it.DiscoveredAt, _ = time.Parse(time.RFC3339, discoveredAt)
	if fetchedAt.Valid {
		t, err := time.Parse(time.RFC3339, fetchedAt.String)
		if err == nil {
			it.FetchedAt = &t
		}
	}
	return &it, nil
}

// MarkCompleted transitions (url, ts) from pending to completed.
func (q *Queue) MarkCompleted(url, ts, localPath string) error {
	return q.transition(url, ts, StatusCompleted, localPath, "")
}

// MarkFailed transitions (url, ts) from pending to failed, recording
// the error that caused it.
func (q *Queue) MarkFailed(url, ts, errMsg string) error {
	return q.transition(url, ts, StatusFailed, "", errMsg)
}

func (q *Queue) transition(url, ts string, status Status, localPath, errMsg string) error {
	res, err := q.db.Exec(`UPDATE urls SET status = ?, local_path = ?, error = ?, fetched_at = ?
		WHERE url = ? AND timestamp = ? AND status = 'pending'`,
		status, localPath, errMsg, time.Now().UTC().Format(time.RFC3339), url, ts)
	if err != nil {
		return fmt.Errorf("queue: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: transition rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue: (%s, %s) was not pending", url, ts)
	}
	return nil
}

// Counts holds per-status totals.
type Counts struct {
	Pending   int
	Completed int
	Failed    int
}

// Stats returns counts grouped by status.
func (q *Queue) Stats() (Counts, error) {
	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("queue: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch Status(status) {
		case StatusPending:
			c.Pending = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}
