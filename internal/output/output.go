// Package output renders a finished run as a human readable table, a json
// document or a single line of space separated values.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jessegalley/diobench/internal/engine"
	"github.com/jessegalley/diobench/internal/histogram"
)

// OutputFormat represents the supported output format types
type OutputFormat string

// supported output format constants
const (
	// table format outputs results in a human-readable table
	TableFormat OutputFormat = "table"

	// json format outputs results as a json object
	JSONFormat OutputFormat = "json"

	// flat format outputs results as space-separated values
	FlatFormat OutputFormat = "flat"
)

// DoneMessage is printed once every write has completed
const DoneMessage = "All writes are done"

// Settings describes the run that produced a result
type Settings struct {
	FileName   string `json:"file_name"`
	FileLenMiB int64  `json:"file_len_mib"`
	BlockSize  int    `json:"block_size"`
	QueueDepth int    `json:"queue_depth"`
	Engine     string `json:"engine"`
	Timing     bool   `json:"timing"`
}

// SettingsLine is the banner printed before a table run
func SettingsLine(s Settings) string {
	return fmt.Sprintf("file-name: %s, file-len: %dMiB, block-size: %d, queue-depth: %d",
		s.FileName, s.FileLenMiB, s.BlockSize, s.QueueDepth)
}

// Report is everything needed to render one run
type Report struct {
	RunID    string
	Settings Settings
	Result   *engine.Result
}

// rates derives iops and MB/s from the raw stats
func rates(s engine.Stats) (iops, mbs float64) {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0, 0
	}
	return float64(s.Completed) / secs, float64(s.Bytes) / secs / (1024 * 1024)
}

// FormatResult formats a Report according to the specified format
func FormatResult(r Report, format OutputFormat) (string, error) {
	if r.Result == nil {
		return "", errors.New("no result to format")
	}

	iops, mbs := rates(r.Result.Stats)
	hist := r.Result.Histogram
	timing := r.Settings.Timing && hist != nil

	switch format {
	case TableFormat:
		var sb strings.Builder
		sb.WriteString(DoneMessage + "\n")

		// latency buckets and percentiles
		if timing {
			if err := hist.Report(&sb); err != nil {
				return "", errors.Wrap(err, "failed to render histogram")
			}
		}

		// write table header
		sb.WriteString(fmt.Sprintf("\n%8s  %12s  %12s\n", "", "IOPS", "BW (MB/s)"))

		// write metrics row
		sb.WriteString(fmt.Sprintf("%8s  %12.2f  %12.2f\n", "write", iops, mbs))

		return sb.String(), nil

	case JSONFormat:
		type formattedResult struct {
			RunID    string   `json:"run_id"`
			Settings Settings `json:"settings"`
			Write    struct {
				IOPS       float64 `json:"iops"`
				Throughput float64 `json:"throughput_mbs"`
			} `json:"write"`
			Stats       engine.Stats           `json:"stats"`
			Duration    float64                `json:"duration_seconds"`
			Buckets     []histogram.Bucket     `json:"buckets,omitempty"`
			Percentiles []histogram.Percentile `json:"percentiles,omitempty"`
		}

		fr := formattedResult{
			RunID:    r.RunID,
			Settings: r.Settings,
			Stats:    r.Result.Stats,
			Duration: r.Result.Elapsed.Seconds(),
		}
		fr.Write.IOPS = iops
		fr.Write.Throughput = mbs
		if timing {
			fr.Buckets = hist.Buckets()
			fr.Percentiles = hist.Percentiles()
		}

		jsonBytes, err := json.MarshalIndent(fr, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal json")
		}

		return string(jsonBytes) + "\n", nil

	case FlatFormat:
		// iops and bandwidth, then one column per resolved percentile
		fields := []string{fmt.Sprintf("%.2f", iops), fmt.Sprintf("%.2f", mbs)}
		if timing {
			for _, p := range hist.Percentiles() {
				fields = append(fields, fmt.Sprintf("%s=%d", p.Label, p.AtLeastMs))
			}
		}
		return strings.Join(fields, " ") + "\n", nil

	default:
		return "", errors.Errorf("unsupported output format: %s", format)
	}
}

// ValidateFormat checks if the provided format string is a valid output format
func ValidateFormat(format string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(format))

	switch f {
	case TableFormat, JSONFormat, FlatFormat:
		return f, nil
	default:
		return "", errors.Errorf("invalid format '%s'. supported formats are: table, json, flat", format)
	}
}
