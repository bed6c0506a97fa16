package governor

import "time"

// fixedWindow counts admitted calls in a fixed span starting at the first
// admit after a rollover. All methods require the owning budget's lock.
type fixedWindow struct {
	span    time.Duration
	ceiling int
	start   time.Time
	count   int
	// exhaustionLogged dedupes the window-exhaustion audit event within a
	// single window period.
	exhaustionLogged bool
}

func newWindows(cfg WindowConfig) []*fixedWindow {
	specs := []struct {
		span    time.Duration
		ceiling int
	}{
		{time.Second, cfg.PerSecond},
		{time.Minute, cfg.PerMinute},
		{time.Hour, cfg.PerHour},
		{24 * time.Hour, cfg.PerDay},
	}
	var windows []*fixedWindow
	for _, s := range specs {
		if s.ceiling > 0 {
			windows = append(windows, &fixedWindow{span: s.span, ceiling: s.ceiling})
		}
	}
	return windows
}

// roll resets the window if its span has elapsed.
func (w *fixedWindow) roll(now time.Time) {
	if w.start.IsZero() || now.Sub(w.start) >= w.span {
		w.start = now
		w.count = 0
		w.exhaustionLogged = false
	}
}

func (w *fixedWindow) hasBudget() bool {
	return w.count < w.ceiling
}

func (w *fixedWindow) consume() {
	w.count++
}

// retryAfter is the time until this window rolls over.
func (w *fixedWindow) retryAfter(now time.Time) time.Duration {
	d := w.start.Add(w.span).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (w *fixedWindow) status() WindowStatus {
	resetsAt := w.start.Add(w.span)
	if w.start.IsZero() {
		resetsAt = time.Time{}
	}
	return WindowStatus{
		Span:      w.span,
		Ceiling:   w.ceiling,
		Used:      w.count,
		ResetsAt:  resetsAt,
		Exhausted: !w.hasBudget(),
	}
}
