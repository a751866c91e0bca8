package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jessegalley/diobench/internal/config"
	"github.com/jessegalley/diobench/internal/fault"
)

// smallConfig writes 1MiB through the pool engine with buffered io so it
// runs on any filesystem the test dir lives on
func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "target")
	cfg.FileLenMiB = 1
	cfg.QueueDepth = 8
	cfg.Engine = "pool"
	cfg.Direct = false
	return cfg
}

func TestRunBenchmarkTable(t *testing.T) {
	cfg := smallConfig(t)

	var out bytes.Buffer
	require.NoError(t, runBenchmark(cfg, true, &out))

	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, "file-name: "+cfg.FileName+", file-len: 1MiB, block-size: 4096, queue-depth: 8", lines[0])
	assert.Equal(t, "All writes are done", lines[1])
	// fast writes may all land in bucket 0, which resolves no percentile
	assert.Regexp(t, `\[\d+, \d+\): \d+\n`, out.String())
	assert.Contains(t, out.String(), "BW (MB/s)")

	// every block holds the fill byte
	data, err := os.ReadFile(cfg.FileName)
	require.NoError(t, err)
	require.Len(t, data, 1<<20)
	assert.Equal(t, bytes.Repeat([]byte{'A'}, 1<<20), data)
}

func TestRunBenchmarkJSONWithMetrics(t *testing.T) {
	cfg := smallConfig(t)
	cfg.OutFmt = "json"
	cfg.MetricsFile = filepath.Join(t.TempDir(), "dio.prom")

	var out bytes.Buffer
	require.NoError(t, runBenchmark(cfg, true, &out))

	var doc struct {
		RunID string `json:"run_id"`
		Stats struct {
			Completed int64 `json:"completed"`
		} `json:"stats"`
		Settings struct {
			Engine string `json:"engine"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.NotEmpty(t, doc.RunID)
	assert.EqualValues(t, 256, doc.Stats.Completed)
	assert.Equal(t, "pool", doc.Settings.Engine)

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "dio_writes_total")
	assert.Contains(t, string(prom), doc.RunID)
}

func TestRunBenchmarkNoTiming(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Timing = false

	var out bytes.Buffer
	require.NoError(t, runBenchmark(cfg, false, &out))
	assert.True(t, strings.HasPrefix(out.String(), "All writes are done\n\n"))
	assert.NotContains(t, out.String(), "p50")
}

func TestRunBenchmarkZeroLength(t *testing.T) {
	cfg := smallConfig(t)
	cfg.FileLenMiB = 0
	cfg.OutFmt = "flat"

	var out bytes.Buffer
	require.NoError(t, runBenchmark(cfg, true, &out))

	fi, err := os.Stat(cfg.FileName)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestRunBenchmarkProgress(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Progress = time.Millisecond

	var progress bytes.Buffer
	orig := progressOut
	progressOut = &progress
	t.Cleanup(func() { progressOut = orig })

	var out bytes.Buffer
	require.NoError(t, runBenchmark(cfg, true, &out))
	assert.Contains(t, progress.String(), "100.0% 1/1 MiB")
	assert.NotContains(t, out.String(), "Progress: [")
	assert.NotContains(t, out.String(), "█")
}

func TestRunBenchmarkOpenFailure(t *testing.T) {
	cfg := smallConfig(t)
	cfg.FileName = filepath.Join(t.TempDir(), "missing", "target")

	var out bytes.Buffer
	err := runBenchmark(cfg, true, &out)
	require.Error(t, err)
	assert.Equal(t, "open", fault.Op(err))
	assert.True(t, strings.HasPrefix(err.Error(), "open: "))
}
