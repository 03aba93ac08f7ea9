package commands

import (
	"io"
	"sync"

	"github.com/ppiankov/cx1export/internal/pagination"
	"github.com/pterm/pterm"
)

// progress draws one page progress bar per source on a terminal.
type progress struct {
	enabled bool
	w       io.Writer

	mu     sync.Mutex
	bar    *pterm.ProgressbarPrinter
	source string
}

func newProgress(enabled bool, w io.Writer) *progress {
	return &progress{enabled: enabled, w: w}
}

// Callback returns the page callback for source, or nil when disabled.
func (p *progress) Callback(source string) pagination.ProgressCallback {
	if !p.enabled {
		return nil
	}
	return func(current, total int, message string) {
		p.update(source, current, total, message)
	}
}

func (p *progress) update(source string, current, total int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil && p.source != source {
		p.stopLocked()
	}
	// Link chains report total 0 until the last page.
	if total < current {
		total = current
	}
	if p.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithWriter(p.w).
			WithTotal(total).
			WithTitle(message).
			WithShowCount(true).
			WithShowElapsedTime(true).
			WithRemoveWhenDone(false).
			Start()
		if err != nil {
			return
		}
		p.bar = bar
		p.source = source
	}

	if total > p.bar.Total {
		p.bar.Total = total
	}
	p.bar.UpdateTitle(message)
	if delta := current - p.bar.Current; delta > 0 {
		p.bar.Add(delta)
	}
}

// Stop ends the current bar. It is safe to call more than once.
func (p *progress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progress) stopLocked() {
	if p.bar == nil {
		return
	}
	_, _ = p.bar.Stop()
	p.bar = nil
	p.source = ""
}
