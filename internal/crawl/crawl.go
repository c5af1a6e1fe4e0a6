// Package crawl implements the Crawl Supervisor: it loads selections,
// owns the main loop, paces between pages, aggregates running stats,
// and shuts down cooperatively on interrupt.
package crawl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sigman78/archivist/internal/page"
	"github.com/sigman78/archivist/internal/queue"
	"github.com/sigman78/archivist/internal/urlkit"
)

// heartbeatInterval is how often the idle stats heartbeat prints while
// the main loop may be blocked inside a long page fetch.
const heartbeatInterval = 30 * time.Second

// Selection is one (timestamp, url) line from a selections file.
type Selection struct {
	Timestamp string
	URL       string
	Domain    string
}

// LoadSelections parses a selections file: lines of "ts|url", blank
// lines and "#"-prefixed comments are ignored, per spec.md §4.9 step 1.
func LoadSelections(r io.Reader) ([]Selection, error) {
	var out []Selection
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("crawl: selections line %d: expected ts|url, got %q", lineNo, line)
		}
		ts := strings.TrimSpace(parts[0])
		rawURL := strings.TrimSpace(parts[1])
		domain, err := urlkit.Domain(rawURL)
		if err != nil {
			return nil, fmt.Errorf("crawl: selections line %d: %w", lineNo, err)
		}
		out = append(out, Selection{Timestamp: ts, URL: rawURL, Domain: domain})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Config parametrizes the Supervisor's main loop.
type Config struct {
	PageDelay time.Duration // sleep between pages; ignored when NoDelay is set
	NoDelay   bool
}

// Supervisor owns the main crawl loop.
type Supervisor struct {
	queue     *queue.Queue
	processor *page.Processor
	cfg       Config
}

// New builds a Supervisor over an already-populated queue.
func New(q *queue.Queue, processor *page.Processor, cfg Config) *Supervisor {
	return &Supervisor{queue: q, processor: processor, cfg: cfg}
}

// Seed loads selections into the queue, per spec.md §4.9 step 1.
func (s *Supervisor) Seed(selections []Selection) error {
	for _, sel := range selections {
		if err := s.queue.Add(sel.URL, sel.Timestamp, sel.Domain); err != nil {
			return fmt.Errorf("crawl: seed: %w", err)
		}
	}
	return nil
}

// Run drives the main loop until the queue is drained or ctx is
// cancelled, alongside a periodic stats heartbeat that stops when the
// loop returns; both are joined with errgroup. Cancellation is checked
// between pages, and ctx is also handed to the page in progress, so
// that page is cut short rather than finished: an interrupted capture
// request marks the page failed, interrupted asset downloads are
// recorded as fetch errors, and an interrupted off-peak wait is
// returned as an error. The queue is left in a valid state either way.
func (s *Supervisor) Run(ctx context.Context) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[green]crawling[reset]"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
	)
	defer func() { _ = bar.Finish() }()

	g, gctx := errgroup.WithContext(ctx)
	hctx, stopHeartbeat := context.WithCancel(gctx)
	defer stopHeartbeat()
	g.Go(func() error {
		defer stopHeartbeat()
		return s.loop(gctx, bar)
	})
	g.Go(func() error { return s.heartbeat(hctx) })
	return g.Wait()
}

func (s *Supervisor) loop(ctx context.Context, bar *progressbar.ProgressBar) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		item, ok, err := s.queue.Next()
		if err != nil {
			return fmt.Errorf("crawl: next: %w", err)
		}
		if !ok {
			return nil
		}

		if err := s.processor.Process(ctx, item); err != nil {
			return fmt.Errorf("crawl: process %s@%s: %w", item.URL, item.Timestamp, err)
		}

		completed, failed, perr := s.refreshStats()
		if perr != nil {
			return perr
		}
		_ = bar.Add(1)
		s.logLine(completed, failed, item)

		if s.cfg.NoDelay || s.cfg.PageDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.PageDelay):
		}
	}
}

// heartbeat prints running stats on a fixed interval so long page
// fetches still produce visible progress, and exits cleanly when ctx
// is cancelled or the loop goroutine finishes first (Run cancels the
// heartbeat's context when the loop returns).
func (s *Supervisor) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			completed, failed, err := s.refreshStats()
			if err != nil {
				return err
			}
			_, _ = colorstring.Fprintln(os.Stderr, fmt.Sprintf("[dim]heartbeat: completed=%d failed=%d[reset]", completed, failed))
		}
	}
}

func (s *Supervisor) refreshStats() (completed, failed int, err error) {
	counts, err := s.queue.Stats()
	if err != nil {
		return 0, 0, fmt.Errorf("crawl: stats: %w", err)
	}
	return counts.Completed, counts.Failed, nil
}

func (s *Supervisor) logLine(completed, failed int, item queue.Item) {
	line := fmt.Sprintf("[green]ok[reset] %s @ %s  [dim](completed=%d failed=%d)[reset]",
		item.URL, item.Timestamp, completed, failed)
	_, _ = colorstring.Fprintln(os.Stderr, line)
}
