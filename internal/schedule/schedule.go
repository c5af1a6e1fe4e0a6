// Package schedule gates the crawl's main loop on an optional
// off-peak time window.
package schedule

import (
	"context"
	"time"
)

// Window is an off-peak local-time window, start/end given as minutes
// since midnight (0-1439). A window where End < Start spans midnight.
type Window struct {
	Enabled    bool
	StartHM    int
	EndHM      int
}

// NewWindow builds a Window from "HH:MM" start/end strings.
func NewWindow(start, end string) (Window, error) {
	s, err := parseHM(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseHM(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Enabled: true, StartHM: s, EndHM: e}, nil
}

func parseHM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inWindow reports whether minute-of-day m falls inside the window.
func (w Window) inWindow(m int) bool {
	if w.StartHM <= w.EndHM {
		return m >= w.StartHM && m < w.EndHM
	}
	// Spans midnight, e.g. 22:00-06:00.
	return m >= w.StartHM || m < w.EndHM
}

// nextBoundary returns how long from now (minute-of-day m) until the
// window next opens, assuming m is currently outside it.
func (w Window) nextBoundary(m int) time.Duration {
	target := w.StartHM
	delta := target - m
	if delta <= 0 {
		delta += 24 * 60
	}
	return time.Duration(delta) * time.Minute
}

// Scheduler gates WaitIfNeeded on an off-peak Window. A Scheduler built
// with disabled=true never blocks, independent of the crawl's own
// inter-page delay knob.
type Scheduler struct {
	window   Window
	disabled bool
	now      func() time.Time
}

// New builds a Scheduler. disabled forces WaitIfNeeded to always
// return immediately regardless of the window — this is the
// `-no-scheduler` knob, distinct from the crawl's `-no-delay` pacing
// knob.
func New(window Window, disabled bool) *Scheduler {
	return &Scheduler{window: window, disabled: disabled, now: time.Now}
}

// WaitIfNeeded blocks until local wall-clock time is inside the
// configured window, polling in coarse steps so it can be interrupted
// promptly by ctx cancellation. It returns immediately when the
// scheduler is disabled or already inside the window.
func (s *Scheduler) WaitIfNeeded(ctx context.Context) error {
	if s.disabled || !s.window.Enabled {
		return nil
	}
	for {
		now := s.now()
		minuteOfDay := now.Hour()*60 + now.Minute()
		if s.window.inWindow(minuteOfDay) {
			return nil
		}
		wait := s.window.nextBoundary(minuteOfDay)
		const pollCap = 5 * time.Minute
		if wait > pollCap {
			wait = pollCap
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
