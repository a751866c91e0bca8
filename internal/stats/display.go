// Package stats shows live progress of a run on a terminal while the write
// pipeline works through the target.
package stats

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DisplayConfig contains configuration options for the progress display
type DisplayConfig struct {
	UpdateInterval time.Duration // how often to redraw, zero disables live updates
	TotalBytes     int64         // bytes the run will write
}

// Display redraws a one-line progress bar until stopped. Advance may be
// called from the run loop while the display goroutine reads the count.
type Display struct {
	config    DisplayConfig
	out       io.Writer
	written   atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
	now       func() time.Time
}

// NewDisplay creates a progress display writing to out
func NewDisplay(out io.Writer, config DisplayConfig) *Display {
	ctx, cancel := context.WithCancel(context.Background())
	return &Display{
		config: config,
		out:    out,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Advance adds n completed bytes; it satisfies engine.Progress
func (d *Display) Advance(n int64) {
	d.written.Add(n)
}

// Start begins redrawing in the background
func (d *Display) Start() {
	d.startTime = d.now()
	if d.config.UpdateInterval <= 0 {
		return
	}

	d.wg.Add(1)
	go d.displayLoop()
}

// Stop shuts the display down and draws the final state once
func (d *Display) Stop() {
	d.cancel()
	d.wg.Wait()

	if d.config.UpdateInterval > 0 {
		fmt.Fprintf(d.out, "\r%s\n", d.line())
	}
}

func (d *Display) displayLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(d.out, "\r%s", d.line())
		case <-d.ctx.Done():
			return
		}
	}
}

// line renders the bar, percentage, MiB done and elapsed time
func (d *Display) line() string {
	const barWidth = 40
	const progressChar = "█"
	const emptyChar = "░"

	written := d.written.Load()
	progress := 1.0
	if d.config.TotalBytes > 0 {
		progress = float64(written) / float64(d.config.TotalBytes)
	}
	if progress > 1.0 {
		progress = 1.0
	}

	filled := int(progress * float64(barWidth))
	bar := strings.Repeat(progressChar, filled) + strings.Repeat(emptyChar, barWidth-filled)

	return fmt.Sprintf("Progress: [%s] %5.1f%% %d/%d MiB %s",
		bar, progress*100, written>>20, d.config.TotalBytes>>20, formatDuration(d.now().Sub(d.startTime)))
}

// formatDuration formats a duration for display in a human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		m := int(d / time.Minute)
		return fmt.Sprintf("%dm%ds", m, int((d-time.Duration(m)*time.Minute)/time.Second))
	default:
		h := int(d / time.Hour)
		return fmt.Sprintf("%dh%dm", h, int((d-time.Duration(h)*time.Hour)/time.Minute))
	}
}
