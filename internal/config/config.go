/*
 *
 * jesse galley <jesse@jessegalley.net>
 */

// Package config holds every knob of a dio run: the target geometry, the
// ring setup and how results are reported. Values come from defaults, an
// optional config file, DIO_* environment variables and command line
// flags, in increasing order of precedence.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	gcpu "github.com/shirou/gopsutil/v4/cpu"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jessegalley/diobench/internal/engine"
	"github.com/jessegalley/diobench/internal/layout"
	"github.com/jessegalley/diobench/internal/output"
	"github.com/jessegalley/diobench/internal/ring"
)

const (
	// EnvPrefix namespaces the environment overrides (DIO_QUEUE_DEPTH, ...)
	EnvPrefix = "DIO"

	// Alignment of the shared write buffer
	Alignment = 4096

	// maxQueueDepth is the kernel's limit on io_uring entries
	maxQueueDepth = 32768

	mib = 1 << 20

	// maxFileLenMiB keeps TotalLength within an int64
	maxFileLenMiB = math.MaxInt64 >> 20
)

// Config holds all configuration parameters for a dio run
type Config struct {
	FileName   string `mapstructure:"file_name"`   // target file
	FileLenMiB int64  `mapstructure:"file_len"`    // bytes to write, in MiB
	BlockSize  int    `mapstructure:"block_size"`  // bytes per write, must satisfy the device's direct io alignment
	QueueDepth int    `mapstructure:"queue_depth"` // in-flight bound and ring capacity

	Engine       string        `mapstructure:"engine"`  // uring, pool or auto
	SQPoll       bool          `mapstructure:"sqpoll"`  // kernel thread submission polling
	SQThreadCPU  int           `mapstructure:"sq_cpu"`  // cpu the polling thread is pinned to, -1 unpinned
	SQThreadIdle time.Duration `mapstructure:"sq_idle"` // polling thread idle timeout
	IOPoll       bool          `mapstructure:"iopoll"`  // busy-poll completions
	CQSize       uint32        `mapstructure:"cq_size"` // completion queue size, 0 means queue depth
	Workers      int           `mapstructure:"workers"` // pool engine writers, 0 means queue depth

	Direct    bool `mapstructure:"direct"`    // open with O_DIRECT
	Dsync     bool `mapstructure:"dsync"`     // open with O_DSYNC
	Preflight bool `mapstructure:"preflight"` // check free space before preallocating

	Timing      bool          `mapstructure:"timing"`       // record per-write latency
	OutFmt      string        `mapstructure:"format"`       // table, json or flat
	MetricsFile string        `mapstructure:"metrics_file"` // prometheus textfile output, empty disables
	LogLevel    string        `mapstructure:"log_level"`    // logrus level for diagnostics on stderr
	Progress    time.Duration `mapstructure:"progress"`     // progress bar redraw interval, 0 disables
}

// NewConfig creates a new Config instance with the full variant's defaults
func NewConfig() *Config {
	return &Config{
		FileName:     "/data/test",    // default test file
		FileLenMiB:   1024,            // 1 GiB
		BlockSize:    4096,            // default block size of 4k for most devices
		QueueDepth:   32,              // 32 writes in flight
		Engine:       "uring",         // kernel io_uring by default
		SQPoll:       true,            // submission polling thread on
		SQThreadCPU:  1,               // pinned to cpu 1
		SQThreadIdle: 2 * time.Second, // polling thread sleeps after 2s idle
		IOPoll:       true,            // polled completions
		CQSize:       0,               // completion queue as deep as the queue depth
		Workers:      0,               // one pool writer per slot
		Direct:       true,            // bypass the page cache
		Dsync:        true,            // synchronous data writes
		Preflight:    false,           // no free space check
		Timing:       true,            // latency histogram on
		OutFmt:       "table",         // human readable output
		MetricsFile:  "",              // no metrics export
		LogLevel:     "warn",          // quiet stderr
		Progress:     0,               // no progress bar
	}
}

// NewMinimalConfig returns the fixed settings of the single-argument variant:
// 1 GiB in 4 KiB blocks with 1024 writes in flight and no latency tracking
func NewMinimalConfig(fileName string) *Config {
	c := NewConfig()
	c.FileName = fileName
	c.FileLenMiB = 1024
	c.BlockSize = 4096
	c.QueueDepth = 1024
	c.Timing = false
	return c
}

// TotalLength returns the number of bytes the run writes
func (c *Config) TotalLength() int64 {
	return c.FileLenMiB * mib
}

// cpuCount reports logical cpus; replaced in tests
var cpuCount = func() (int, error) {
	return gcpu.Counts(true)
}

// Validate checks all parameters for validity
func (c *Config) Validate() error {
	// validate target
	if c.FileName == "" {
		return errors.New("file_name must not be empty")
	}
	if c.FileLenMiB < 0 {
		return errors.Errorf("file_len must not be negative, got %d", c.FileLenMiB)
	}
	if c.FileLenMiB > maxFileLenMiB {
		return errors.Errorf("file_len must be at most %d MiB, got %d", int64(maxFileLenMiB), c.FileLenMiB)
	}

	// validate block size
	if c.BlockSize <= 0 {
		return errors.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.Direct && c.BlockSize%512 != 0 {
		return errors.Errorf("block_size must be a multiple of 512 bytes for direct io, got %d", c.BlockSize)
	}
	if c.TotalLength()%int64(c.BlockSize) != 0 {
		return errors.Errorf("file_len of %d MiB is not a multiple of block_size %d", c.FileLenMiB, c.BlockSize)
	}

	// validate queue depth
	if c.QueueDepth < 1 || c.QueueDepth > maxQueueDepth {
		return errors.Errorf("queue_depth must be between 1 and %d, got %d", maxQueueDepth, c.QueueDepth)
	}
	if c.CQSize != 0 && int(c.CQSize) < c.QueueDepth {
		return errors.Errorf("cq_size must be 0 or at least queue_depth (%d), got %d", c.QueueDepth, c.CQSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}

	// validate ring setup
	if _, err := ring.ParseKind(c.Engine); err != nil {
		return err
	}
	if c.SQThreadIdle < 0 {
		return errors.Errorf("sq_idle must not be negative, got %s", c.SQThreadIdle)
	}
	if c.SQThreadCPU < -1 {
		return errors.Errorf("sq_cpu must be -1 or a cpu index, got %d", c.SQThreadCPU)
	}
	if c.SQPoll && c.SQThreadCPU >= 0 {
		if n, err := cpuCount(); err == nil && n > 0 && c.SQThreadCPU >= n {
			return errors.Errorf("sq_cpu %d is out of range, host has %d cpus", c.SQThreadCPU, n)
		}
	}

	// validate reporting
	if c.Progress < 0 {
		return errors.Errorf("progress must not be negative, got %s", c.Progress)
	}
	if _, err := output.ValidateFormat(c.OutFmt); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}

	return nil
}

// RingOptions translates the ring settings
func (c *Config) RingOptions() ring.Options {
	opts := ring.DefaultOptions(uint32(c.QueueDepth))
	opts.SQPoll = c.SQPoll
	opts.SQThreadCPU = c.SQThreadCPU
	opts.SQThreadIdle = c.SQThreadIdle
	opts.IOPoll = c.IOPoll
	opts.Workers = c.Workers
	if c.CQSize != 0 {
		opts.CQSize = c.CQSize
	}
	return opts
}

// LayoutOptions translates the file open settings
func (c *Config) LayoutOptions() layout.Options {
	return layout.Options{Direct: c.Direct, Dsync: c.Dsync, Preflight: c.Preflight}
}

// EngineConfig translates the run geometry
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		TotalLength: c.TotalLength(),
		BlockSize:   c.BlockSize,
		QueueDepth:  c.QueueDepth,
		Timing:      c.Timing,
	}
}

// NewViper returns a viper instance reading DIO_* environment overrides,
// with flags bound when fs is not nil
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "failed to bind flags")
		}
	}
	return v, nil
}

// Load layers an optional config file, the environment and the bound flags
// over base, then validates the result
func Load(v *viper.Viper, base *Config, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	cfg := *base
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
