// Package histogram accumulates write latencies into fixed one-millisecond
// buckets and reports the distribution with coarse percentiles.
package histogram

import (
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// Buckets is the number of counters: 100 one-millisecond buckets plus overflow
	Buckets = 101

	// Overflow is the index of the bucket counting latencies of 100ms or more
	Overflow = Buckets - 1
)

// Quantile names a target quantile in the report
type Quantile struct {
	Label string
	Q     float64
}

// DefaultQuantiles are the quantiles the report prints
var DefaultQuantiles = []Quantile{
	{"p50", 0.50},
	{"p90", 0.90},
	{"p99", 0.99},
	{"p999", 0.999},
}

// Histogram counts latencies per whole millisecond
type Histogram struct {
	counts [Buckets]uint64
}

// New returns an empty histogram
func New() *Histogram {
	return &Histogram{}
}

// Observe records one latency given in nanoseconds
func (h *Histogram) Observe(elapsedNanos int64) {
	h.counts[bucketOf(elapsedNanos)]++
}

// ObserveDuration records one latency
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Nanoseconds())
}

func bucketOf(elapsedNanos int64) int {
	if elapsedNanos < 0 {
		return 0
	}
	i := elapsedNanos / int64(time.Millisecond)
	if i >= Overflow {
		return Overflow
	}
	return int(i)
}

// Count returns the count of bucket i
func (h *Histogram) Count(i int) uint64 {
	if i < 0 || i >= Buckets {
		return 0
	}
	return h.counts[i]
}

// Total returns the number of observations
func (h *Histogram) Total() uint64 {
	var n uint64
	for _, c := range h.counts {
		n += c
	}
	return n
}

// Bucket is one non-empty counter
type Bucket struct {
	Low   int    `json:"low_ms"`  // inclusive lower bound in ms
	High  int    `json:"high_ms"` // exclusive upper bound in ms; the overflow bucket reports Low+1
	Count uint64 `json:"count"`
}

// Buckets returns the non-empty buckets in ascending order
func (h *Histogram) Buckets() []Bucket {
	var out []Bucket
	for i, c := range h.counts {
		if c != 0 {
			out = append(out, Bucket{Low: i, High: i + 1, Count: c})
		}
	}
	return out
}

// Cumulative returns running totals; entry i counts observations in buckets 0..i
func (h *Histogram) Cumulative() [Buckets]uint64 {
	cum := h.counts
	for i := 1; i < Buckets; i++ {
		cum[i] += cum[i-1]
	}
	return cum
}

// Percentile is the reported value for one quantile
type Percentile struct {
	Label     string  `json:"label"`
	Q         float64 `json:"quantile"`
	AtLeastMs int     `json:"at_least_ms"`
}

// Percentiles resolves DefaultQuantiles. For each one the threshold is
// floor(q * total) and the reported bucket is the largest index whose
// cumulative count does not exceed it. A quantile with no such bucket
// is left out.
func (h *Histogram) Percentiles() []Percentile {
	cum := h.Cumulative()
	total := cum[Overflow]

	var out []Percentile
	for _, q := range DefaultQuantiles {
		threshold := uint64(math.Floor(q.Q * float64(total)))
		for j := Overflow; j >= 0; j-- {
			if cum[j] <= threshold {
				out = append(out, Percentile{Label: q.Label, Q: q.Q, AtLeastMs: j})
				break
			}
		}
	}
	return out
}

// Report writes the non-empty buckets followed by the percentile lines
func (h *Histogram) Report(w io.Writer) error {
	for _, b := range h.Buckets() {
		if _, err := fmt.Fprintf(w, "[%d, %d): %d\n", b.Low, b.High, b.Count); err != nil {
			return err
		}
	}
	for _, p := range h.Percentiles() {
		if _, err := fmt.Fprintf(w, "%s: %d+ms\n", p.Label, p.AtLeastMs); err != nil {
			return err
		}
	}
	return nil
}
