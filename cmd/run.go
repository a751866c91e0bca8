/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jessegalley/diobench/internal/alignbuf"
	"github.com/jessegalley/diobench/internal/config"
	"github.com/jessegalley/diobench/internal/engine"
	"github.com/jessegalley/diobench/internal/layout"
	"github.com/jessegalley/diobench/internal/metrics"
	"github.com/jessegalley/diobench/internal/output"
	"github.com/jessegalley/diobench/internal/ring"
	"github.com/jessegalley/diobench/internal/stats"
)

// progressOut receives the progress bar
var progressOut io.Writer = os.Stderr

// setupLogging sends diagnostics to stderr at the requested level
func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(lvl)
	return nil
}

// runBenchmark prepares the target, drives the write pipeline and prints
// the result to stdout. The target, buffer and ring are released on every
// return path.
func runBenchmark(cfg *config.Config, showSettings bool, stdout io.Writer) (err error) {
	format, err := output.ValidateFormat(cfg.OutFmt)
	if err != nil {
		return err
	}
	kind, err := ring.ParseKind(cfg.Engine)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{
		"run_id":      runID,
		"engine":      cfg.Engine,
		"queue_depth": cfg.QueueDepth,
	})
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.Debugf("effective config:\n%s", spew.Sdump(cfg))
	}

	settings := output.Settings{
		FileName:   cfg.FileName,
		FileLenMiB: cfg.FileLenMiB,
		BlockSize:  cfg.BlockSize,
		QueueDepth: cfg.QueueDepth,
		Engine:     cfg.Engine,
		Timing:     cfg.Timing,
	}
	if showSettings && format == output.TableFormat {
		fmt.Fprintln(stdout, output.SettingsLine(settings))
	}

	// open and preallocate the target
	target, err := layout.Prepare(cfg.FileName, cfg.TotalLength(), cfg.LayoutOptions())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := target.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// one aligned block shared by every write
	buf, err := alignbuf.New(cfg.BlockSize, config.Alignment)
	if err != nil {
		return err
	}
	defer buf.Close()
	buf.Fill(alignbuf.DefaultFill)

	if err := target.Prime(buf.Bytes()); err != nil {
		return err
	}

	r, resolved, err := ring.Open(kind, target.File, cfg.RingOptions())
	if err != nil {
		return err
	}
	settings.Engine = string(resolved)
	log = log.WithField("engine", settings.Engine)

	var rec *metrics.Recorder
	opts := []engine.Option{engine.WithLogger(log)}
	if cfg.MetricsFile != "" {
		rec = metrics.NewRecorder(prometheus.Labels{"run_id": runID, "engine": settings.Engine})
		opts = append(opts, engine.WithSink(rec))
	}

	display := stats.NewDisplay(progressOut, stats.DisplayConfig{
		UpdateInterval: cfg.Progress,
		TotalBytes:     cfg.TotalLength(),
	})
	opts = append(opts, engine.WithProgress(display))

	eng, err := engine.New(r, buf.Bytes(), cfg.EngineConfig(), opts...)
	if err != nil {
		r.Close()
		return err
	}

	display.Start()
	res, err := eng.Run()
	display.Stop()
	if err != nil {
		return err
	}

	out, err := output.FormatResult(output.Report{RunID: runID, Settings: settings, Result: res}, format)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)

	if rec != nil {
		rec.Record(res.Stats)
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
		log.WithField("path", cfg.MetricsFile).Info("wrote metrics")
	}

	return nil
}
