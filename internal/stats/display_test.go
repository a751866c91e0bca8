package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock returns start on the first read and start+elapsed afterwards
func fixedClock(elapsed time.Duration) func() time.Time {
	start := time.Unix(0, 0)
	first := true
	return func() time.Time {
		if first {
			first = false
			return start
		}
		return start.Add(elapsed)
	}
}

func TestLine(t *testing.T) {
	d := NewDisplay(&bytes.Buffer{}, DisplayConfig{TotalBytes: 8 << 20})
	d.now = fixedClock(1500 * time.Millisecond)
	d.Start()

	d.Advance(2 << 20)
	line := d.line()
	assert.Contains(t, line, " 25.0% 2/8 MiB 1.5s")
	assert.Equal(t, 10, strings.Count(line, "█"))
	assert.Equal(t, 30, strings.Count(line, "░"))

	// overshoot clamps to a full bar
	d.Advance(16 << 20)
	assert.Contains(t, d.line(), "100.0%")
	assert.Equal(t, 40, strings.Count(d.line(), "█"))
}

func TestLineEmptyTarget(t *testing.T) {
	d := NewDisplay(&bytes.Buffer{}, DisplayConfig{})
	d.Start()
	assert.Contains(t, d.line(), "100.0% 0/0 MiB")
}

func TestStopDrawsFinalLine(t *testing.T) {
	var out bytes.Buffer
	d := NewDisplay(&out, DisplayConfig{UpdateInterval: time.Millisecond, TotalBytes: 1 << 20})
	d.Start()
	d.Advance(1 << 20)
	d.Stop()

	// the last redraw ends the line
	last := out.String()[strings.LastIndex(out.String(), "\r"):]
	assert.Contains(t, last, "100.0% 1/1 MiB")
	assert.True(t, strings.HasSuffix(last, "\n"))
}

func TestDisabledDisplayIsSilent(t *testing.T) {
	var out bytes.Buffer
	d := NewDisplay(&out, DisplayConfig{TotalBytes: 1 << 20})
	d.Start()
	d.Advance(4096)
	d.Stop()
	assert.Empty(t, out.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))
	assert.Equal(t, "3m7s", formatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "2h5m", formatDuration(2*time.Hour+5*time.Minute))
}
