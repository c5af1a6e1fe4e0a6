package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/sigman78/archivist/internal/capture"
	"github.com/sigman78/archivist/internal/config"
	"github.com/sigman78/archivist/internal/crawl"
	"github.com/sigman78/archivist/internal/fetch"
	"github.com/sigman78/archivist/internal/page"
	"github.com/sigman78/archivist/internal/queue"
	"github.com/sigman78/archivist/internal/rewrite"
	"github.com/sigman78/archivist/internal/schedule"
	"github.com/sigman78/archivist/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: archivist -selections file [options]

Options:
  -selections string      Selections file: lines of "ts|url" (required)
  -out string              Output directory (default "snapshots")
  -auth-file string        Auth file with ARCHIVE_LOGGED_IN_USER / ARCHIVE_LOGGED_IN_SIG
                           (defaults to those same environment variables)
  -host string             Archive host to capture against (default "web.archive.org")
  -page-delay duration     Delay between pages (default 5s)
  -asset-delay duration    Delay between asset downloads, cache hits exempt (default 200ms)
  -no-delay                Disable inter-page delay pacing
  -no-scheduler            Disable the off-peak window gate
  -off-peak-start string   Off-peak window start, HH:MM local time
  -off-peak-end string     Off-peak window end, HH:MM local time
  -rate float              Requests per second against the archive (default 1)
  -max-asset-mb int        Skip assets larger than this many MB (0 = no limit)
  -external-assets         Also materialize off-site (external) assets
  -canonical string        Canonical tag handling: keep|remove (default "keep")
  -user-agent string       User-Agent sent with every request
  -version                 Print version and exit
  -h / -help               Show this help and exit
`)
}

func main() {
	fs := flag.NewFlagSet("archivist", flag.ContinueOnError)
	fs.Usage = usage

	var (
		selectionsFlag  string
		outFlag         string
		authFileFlag    string
		hostFlag        string
		pageDelayFlag   time.Duration
		assetDelayFlag  time.Duration
		noDelayFlag     bool
		noSchedulerFlag bool
		offPeakStart    string
		offPeakEnd      string
		rateFlag        float64
		maxAssetMB      int64
		extAssets       bool
		canonicalFlag   string
		userAgentFlag   string
	)

	fs.StringVar(&selectionsFlag, "selections", "", `Selections file: lines of "ts|url"`)
	fs.StringVar(&outFlag, "out", "snapshots", "Output directory")
	fs.StringVar(&authFileFlag, "auth-file", "", "Auth file with ARCHIVE_LOGGED_IN_USER / ARCHIVE_LOGGED_IN_SIG")
	fs.StringVar(&hostFlag, "host", "web.archive.org", "Archive host to capture against")
	fs.DurationVar(&pageDelayFlag, "page-delay", 5*time.Second, "Delay between pages")
	fs.DurationVar(&assetDelayFlag, "asset-delay", 200*time.Millisecond, "Delay between asset downloads, cache hits exempt")
	fs.BoolVar(&noDelayFlag, "no-delay", false, "Disable inter-page delay pacing")
	fs.BoolVar(&noSchedulerFlag, "no-scheduler", false, "Disable the off-peak window gate")
	fs.StringVar(&offPeakStart, "off-peak-start", "", "Off-peak window start, HH:MM local time")
	fs.StringVar(&offPeakEnd, "off-peak-end", "", "Off-peak window end, HH:MM local time")
	fs.Float64Var(&rateFlag, "rate", 1, "Requests per second against the archive")
	fs.Int64Var(&maxAssetMB, "max-asset-mb", 0, "Skip assets larger than this many MB (0 = no limit)")
	fs.BoolVar(&extAssets, "external-assets", false, "Also materialize off-site (external) assets")
	fs.StringVar(&canonicalFlag, "canonical", "keep", "Canonical tag handling: keep|remove")
	fs.StringVar(&userAgentFlag, "user-agent", "archivist/"+version, "User-Agent sent with every request")

	for _, a := range os.Args[1:] {
		if a == "-version" || a == "--version" {
			fmt.Printf("archivist %s (commit %s, built %s)\n", version, commit, date)
			os.Exit(0)
		}
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	canonicalFlag = strings.ToLower(canonicalFlag)
	if canonicalFlag != "keep" && canonicalFlag != "remove" {
		fmt.Fprintln(os.Stderr, "error: -canonical must be 'keep' or 'remove'")
		os.Exit(1)
	}
	if selectionsFlag == "" {
		fmt.Fprintln(os.Stderr, "error: -selections is required")
		usage()
		os.Exit(1)
	}

	creds, err := loadCredentials(authFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(runConfig{
		selectionsPath: selectionsFlag,
		outDir:         outFlag,
		host:           hostFlag,
		pageDelay:      pageDelayFlag,
		assetDelay:     assetDelayFlag,
		noDelay:        noDelayFlag,
		noScheduler:    noSchedulerFlag,
		offPeakStart:   offPeakStart,
		offPeakEnd:     offPeakEnd,
		ratePerSecond:  rateFlag,
		maxAssetBytes:  maxAssetMB * 1024 * 1024,
		extAssets:      extAssets,
		canonical:      canonicalFlag,
		userAgent:      userAgentFlag,
		creds:          creds,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadCredentials(authFile string) (capture.Credentials, error) {
	if authFile != "" {
		return config.LoadCredentialsFromFile(authFile)
	}
	return config.LoadCredentialsFromEnv()
}

type runConfig struct {
	selectionsPath string
	outDir         string
	host           string
	pageDelay      time.Duration
	assetDelay     time.Duration
	noDelay        bool
	noScheduler    bool
	offPeakStart   string
	offPeakEnd     string
	ratePerSecond  float64
	maxAssetBytes  int64
	extAssets      bool
	canonical      string
	userAgent      string
	creds          capture.Credentials
}

func run(rc runConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down, interrupting the current page...")
		cancel()
	}()

	f, err := os.Open(rc.selectionsPath) //nolint:gosec // G304: operator-supplied flag
	if err != nil {
		return fmt.Errorf("open selections: %w", err)
	}
	selections, err := crawl.LoadSelections(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("load selections: %w", err)
	}

	stateDir := filepath.Join(rc.outDir, ".state")
	q, err := queue.Open(filepath.Join(stateDir, "queue.db"))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	st, err := store.Open(filepath.Join(stateDir, "assets.db"), rc.outDir)
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}
	defer func() { _ = st.Close() }()

	limiter := rate.NewLimiter(rate.Limit(rc.ratePerSecond), 1)
	client := capture.New(rc.host, rc.creds, rc.userAgent, limiter)

	fetcher, err := fetch.New(client, st, fetch.Config{
		MaxAssetBytes: rc.maxAssetBytes,
		Concurrency:   1, // politeness: one asset in flight at a time against the archive
		AssetDelay:    rc.assetDelay,
	})
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}
	defer fetcher.Release()

	var window schedule.Window
	if rc.offPeakStart != "" && rc.offPeakEnd != "" {
		window, err = schedule.NewWindow(rc.offPeakStart, rc.offPeakEnd)
		if err != nil {
			return fmt.Errorf("parse off-peak window: %w", err)
		}
	}
	sched := schedule.New(window, rc.noScheduler)

	canonical := rewrite.CanonicalKeep
	if rc.canonical == "remove" {
		canonical = rewrite.CanonicalRemove
	}

	processor := page.New(client, fetcher, q, sched, page.Config{
		OutDir:                 rc.outDir,
		FetchExternalAssets:    rc.extAssets,
		DownloadExternalAssets: rc.extAssets,
		MaxAssetBytes:          rc.maxAssetBytes,
		Canonical:              canonical,
	})

	supervisor := crawl.New(q, processor, crawl.Config{
		PageDelay: rc.pageDelay,
		NoDelay:   rc.noDelay,
	})

	if err := supervisor.Seed(selections); err != nil {
		return fmt.Errorf("seed queue: %w", err)
	}

	fmt.Printf("archivist: %d selections loaded, writing to %s\n", len(selections), rc.outDir)
	if err := supervisor.Run(ctx); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	counts, err := q.Stats()
	if err != nil {
		return fmt.Errorf("final stats: %w", err)
	}
	fmt.Printf("done: %d completed, %d failed, %d pending\n", counts.Completed, counts.Failed, counts.Pending)
	return nil
}
