// Package engine keeps a bounded submission/completion ring full of
// sequential block writes until the whole target length is covered.
//
// A run alternates two phases. The fill phase stages as many writes as the
// in-flight bound and the ring's free slots allow and flushes them in one
// submit call. The drain phase blocks for one completion and then reaps
// every completion that is already available without blocking again. The run
// ends once every block has been submitted and nothing is outstanding, or at
// the first fatal error. The ring is torn down on either path.
package engine

import (
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jessegalley/diobench/internal/fault"
	"github.com/jessegalley/diobench/internal/histogram"
	"github.com/jessegalley/diobench/internal/ring"
)

// step names reported in fatal errors raised by the engine itself
const (
	OpQueue = "ring_queue"
	OpWrite = "write"
)

var (
	// ErrInvalidConfig is wrapped by every constructor validation failure
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrStalled means work remains but the ring offered no slot while idle
	ErrStalled = errors.New("ring accepted no writes with nothing in flight")

	// ErrUnexpectedCompletion means a completion named a slot that was not in flight
	ErrUnexpectedCompletion = errors.New("completion for a slot that is not in flight")

	// ErrAlreadyRun is returned by a second call to Run
	ErrAlreadyRun = errors.New("engine has already run")
)

// Config is the fixed geometry of a run
type Config struct {
	TotalLength int64 // bytes to write, a multiple of BlockSize
	BlockSize   int   // bytes per write
	QueueDepth  int   // maximum writes in flight
	Timing      bool  // record per-write latency
}

// Sink receives every latency sample alongside the engine's own histogram
type Sink interface {
	Observe(elapsed time.Duration)
}

// Progress is told the size of every successful write, timed or not
type Progress interface {
	Advance(bytes int64)
}

// Stats counts what a run did
type Stats struct {
	Submitted   int64         `json:"submitted"`     // writes handed to the ring
	Completed   int64         `json:"completed"`     // writes reaped successfully
	Bytes       int64         `json:"bytes_written"` // bytes reported written by completions
	Batches     int64         `json:"batches"`       // submit calls
	MaxInFlight int           `json:"max_in_flight"` // highest in-flight count reached
	OutOfOrder  int64         `json:"out_of_order"`  // completions reaped before an earlier submission
	Elapsed     time.Duration `json:"elapsed_ns"`    // wall time from first fill to last completion
}

// Result is what a successful run returns
type Result struct {
	Stats
	Histogram *histogram.Histogram
}

// slot is the side table entry for one ring slot; the ring's user data
// carries only the slot index
type slot struct {
	seq    uint64    // submission sequence number
	offset int64     // file offset of the write
	issued time.Time // when the write was staged, zero when timing is off
	busy   bool      // submitted and not yet completed
}

// Engine drives one run. It is not safe for concurrent use.
type Engine struct {
	ring  ring.Ring
	buf   []byte
	cfg   Config
	log   *logrus.Entry
	now   func() time.Time
	sinks []Sink
	prog  []Progress
	hist  *histogram.Histogram

	// pipeline state
	nextOffset int64
	inFlight   int
	slots      []slot
	free       []uint64 // stack of idle slot indexes
	seq        uint64
	lastSeq    uint64 // highest sequence number reaped so far
	reaped     bool
	ran        bool
	stats      Stats
}

// Option customizes an Engine
type Option func(*Engine)

// WithLogger sets the logger used for run-level diagnostics
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces the monotonic clock, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithProgress reports completed bytes to p as the run advances
func WithProgress(p Progress) Option {
	return func(e *Engine) { e.prog = append(e.prog, p) }
}

// WithSink forwards every latency sample to s as well
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// New validates cfg and prepares an engine that writes buf over and over.
// The engine takes ownership of r and closes it when Run returns.
func New(r ring.Ring, buf []byte, cfg Config, opts ...Option) (*Engine, error) {
	// validate run geometry
	switch {
	case r == nil:
		return nil, errors.Wrap(ErrInvalidConfig, "ring is nil")
	case cfg.BlockSize <= 0:
		return nil, errors.Wrapf(ErrInvalidConfig, "block size must be positive, got %d", cfg.BlockSize)
	case len(buf) != cfg.BlockSize:
		return nil, errors.Wrapf(ErrInvalidConfig, "buffer is %d bytes, block size is %d", len(buf), cfg.BlockSize)
	case cfg.QueueDepth < 1:
		return nil, errors.Wrapf(ErrInvalidConfig, "queue depth must be at least 1, got %d", cfg.QueueDepth)
	case cfg.TotalLength < 0:
		return nil, errors.Wrapf(ErrInvalidConfig, "total length must not be negative, got %d", cfg.TotalLength)
	case cfg.TotalLength%int64(cfg.BlockSize) != 0:
		return nil, errors.Wrapf(ErrInvalidConfig, "total length %d is not a multiple of block size %d", cfg.TotalLength, cfg.BlockSize)
	}

	e := &Engine{
		ring:  r,
		buf:   buf,
		cfg:   cfg,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		now:   time.Now,
		hist:  histogram.New(),
		slots: make([]slot, cfg.QueueDepth),
		free:  make([]uint64, 0, cfg.QueueDepth),
	}
	for _, opt := range opts {
		opt(e)
	}

	// hand out low slot indexes first
	for i := cfg.QueueDepth - 1; i >= 0; i-- {
		e.free = append(e.free, uint64(i))
	}

	return e, nil
}

// Run writes every block of the target and returns the collected stats
// and latency histogram. The ring is closed on every return path.
func (e *Engine) Run() (res *Result, err error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	e.ran = true

	defer func() {
		if cerr := e.ring.Close(); cerr != nil {
			err = appendErr(err, cerr)
			res = nil
		}
	}()

	e.log.WithFields(logrus.Fields{
		"total_length": e.cfg.TotalLength,
		"block_size":   e.cfg.BlockSize,
		"queue_depth":  e.cfg.QueueDepth,
		"timing":       e.cfg.Timing,
	}).Debug("starting write pipeline")

	start := e.now()
	for e.nextOffset < e.cfg.TotalLength || e.inFlight > 0 {
		// fill phase
		prepared, err := e.fill()
		if err != nil {
			return nil, e.fatal(err)
		}

		// flush the whole fill in one submit
		if prepared > 0 {
			if _, err := e.ring.Submit(); err != nil {
				return nil, e.fatal(err)
			}
			e.inFlight += prepared
			e.stats.Submitted += int64(prepared)
			e.stats.Batches++
			if e.inFlight > e.stats.MaxInFlight {
				e.stats.MaxInFlight = e.inFlight
			}
		}

		if e.inFlight == 0 {
			if e.nextOffset < e.cfg.TotalLength {
				return nil, e.fatal(ErrStalled)
			}
			break
		}

		// drain phase
		if err := e.drain(); err != nil {
			return nil, e.fatal(err)
		}
	}
	e.stats.Elapsed = e.now().Sub(start)

	e.log.WithFields(logrus.Fields{
		"completed": e.stats.Completed,
		"batches":   e.stats.Batches,
		"elapsed":   e.stats.Elapsed,
	}).Debug("all writes are done")

	return &Result{Stats: e.stats, Histogram: e.hist}, nil
}

// fill stages writes until the target is covered, the in-flight bound is
// reached, or the ring runs out of submission slots
func (e *Engine) fill() (int, error) {
	prepared := 0
	for e.nextOffset < e.cfg.TotalLength && e.inFlight+prepared < e.cfg.QueueDepth {
		// there is always an idle slot while under the bound
		id := e.free[len(e.free)-1]

		var issued time.Time
		if e.cfg.Timing {
			issued = e.now()
		}

		ok, err := e.ring.TryQueue(e.buf, e.nextOffset, id)
		if err != nil {
			return prepared, fault.Wrap(OpQueue, err)
		}
		if !ok {
			// the ring's own slot accounting is full, submit what we have
			break
		}

		e.free = e.free[:len(e.free)-1]
		e.slots[id] = slot{seq: e.seq, offset: e.nextOffset, issued: issued, busy: true}
		e.seq++
		e.nextOffset += int64(e.cfg.BlockSize)
		prepared++
	}
	return prepared, nil
}

// drain blocks for one completion, then reaps whatever else is ready
func (e *Engine) drain() error {
	c, err := e.ring.Wait()
	if err != nil {
		return err
	}
	if err := e.complete(c); err != nil {
		return err
	}

	for {
		c, ok, err := e.ring.Poll()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.complete(c); err != nil {
			return err
		}
	}
}

// complete checks one completion, records its latency and frees its slot
func (e *Engine) complete(c ring.Completion) error {
	var now time.Time
	if e.cfg.Timing {
		now = e.now()
	}

	// the user data must name a slot that is in flight
	id := c.UserData
	if id >= uint64(len(e.slots)) || !e.slots[id].busy {
		return errors.Wrapf(ErrUnexpectedCompletion, "slot %d", id)
	}
	s := e.slots[id]

	e.ring.Ack(c)

	if c.Res < 0 {
		return fault.Errno(OpWrite, c.Res)
	}
	if int(c.Res) != e.cfg.BlockSize {
		return &fault.OpError{
			Op:  OpWrite,
			Err: errors.Wrapf(io.ErrShortWrite, "offset %d: %d of %d bytes", s.offset, c.Res, e.cfg.BlockSize),
		}
	}

	if e.cfg.Timing {
		elapsed := now.Sub(s.issued)
		e.hist.ObserveDuration(elapsed)
		for _, sink := range e.sinks {
			sink.Observe(elapsed)
		}
	}

	if e.reaped && s.seq < e.lastSeq {
		e.stats.OutOfOrder++
	} else {
		e.lastSeq = s.seq
		e.reaped = true
	}

	e.slots[id] = slot{}
	e.free = append(e.free, id)
	e.inFlight--
	e.stats.Completed++
	e.stats.Bytes += int64(c.Res)
	for _, p := range e.prog {
		p.Advance(int64(c.Res))
	}
	return nil
}

// fatal logs the state the run died in and passes err through
func (e *Engine) fatal(err error) error {
	e.log.WithError(err).WithFields(logrus.Fields{
		"next_offset": e.nextOffset,
		"in_flight":   e.inFlight,
		"completed":   e.stats.Completed,
	}).Debug("write pipeline aborted")
	return err
}

// appendErr merges a teardown error into the run error, keeping one line
func appendErr(err, cerr error) error {
	if err == nil {
		return cerr
	}
	merr := multierror.Append(err, cerr)
	merr.ErrorFormat = func(es []error) string {
		msgs := make([]string, len(es))
		for i, e := range es {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return merr
}
