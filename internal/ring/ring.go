// Package ring owns the submission/completion ring a benchmark run drives.
//
// The engine talks to a Ring only through the capability set below: stage a
// write into a free submission slot, flush staged writes in one batch, block
// for one completion, poll for more without blocking, acknowledge each
// completion, and tear the ring down. Two implementations exist: URing backed
// by the kernel io_uring facility, and Pool, which emulates the same contract
// with worker goroutines bounded by a counting semaphore.
package ring

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/jessegalley/diobench/internal/fault"
)

// step names reported in fatal errors
const (
	OpInit   = "ring_init"
	OpSubmit = "ring_submit"
	OpWait   = "ring_wait"
	OpPeek   = "ring_peek"
)

// ErrClosed is returned by operations on a torn down ring
var ErrClosed = errors.New("ring is closed")

// ErrUnsupported is returned when the native ring is not available on this platform
var ErrUnsupported = errors.New("io_uring is not supported on this platform")

// Ring is the capability set the pipelining engine needs
type Ring interface {
	// TryQueue stages a write of buf at off carrying userData. It reports
	// false, with no error, when the ring has no free submission slot.
	TryQueue(buf []byte, off int64, userData uint64) (bool, error)

	// Submit hands every staged write to the ring in one call.
	Submit() (int, error)

	// Wait blocks until at least one completion is available.
	Wait() (Completion, error)

	// Poll returns a ready completion without blocking; false when none is ready.
	Poll() (Completion, bool, error)

	// Ack marks a completion consumed and frees its ring slot.
	Ack(Completion)

	// Close releases the ring. Only the first call has any effect.
	Close() error
}

// Completion is the result of one submitted write
type Completion struct {
	UserData uint64 // value passed to TryQueue
	Res      int32  // bytes written, or a negated errno

	ref any // implementation handle needed by Ack
}

// Err maps a negative result to the errno it carries
func (c Completion) Err() error {
	if c.Res < 0 {
		return syscall.Errno(-c.Res)
	}
	return nil
}

// Options configures a ring
type Options struct {
	Entries      uint32        // submission queue capacity
	SQPoll       bool          // offload submission to a kernel polling thread
	SQThreadCPU  int           // cpu the polling thread is pinned to (-1 leaves it unpinned)
	SQThreadIdle time.Duration // idle time before the polling thread sleeps
	IOPoll       bool          // busy-poll for completions instead of interrupts
	CQSize       uint32        // completion queue size override (0 keeps the kernel default)
	Workers      int           // pool emulation only: writer goroutines (0 means Entries)
}

// DefaultOptions mirrors the ring setup the benchmark has always used:
// a pinned SQ polling thread with a 2s idle timeout, IOPOLL completions,
// and a completion queue as deep as the submission queue.
func DefaultOptions(entries uint32) Options {
	return Options{
		Entries:      entries,
		SQPoll:       true,
		SQThreadCPU:  1,
		SQThreadIdle: 2 * time.Second,
		IOPoll:       true,
		CQSize:       entries,
	}
}

func (o Options) validate() error {
	if o.Entries == 0 {
		return errors.New("ring entries must be at least 1")
	}
	if o.CQSize != 0 && o.CQSize < o.Entries {
		return errors.Errorf("completion queue size %d is smaller than ring entries %d", o.CQSize, o.Entries)
	}
	if o.Workers < 0 {
		return errors.Errorf("worker count must not be negative, got %d", o.Workers)
	}
	return nil
}

// Kind selects a ring implementation
type Kind string

const (
	KindURing Kind = "uring" // kernel io_uring
	KindPool  Kind = "pool"  // worker pool emulation
	KindAuto  Kind = "auto"  // io_uring when a probe ring can be created, else pool
)

// ParseKind validates a ring kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindURing, KindPool, KindAuto:
		return k, nil
	default:
		return "", errors.Errorf("invalid engine '%s'. supported engines are: uring, pool, auto", s)
	}
}

// Open creates a ring of the requested kind writing to f.
// It also reports which kind was actually opened, which differs from
// kind only for KindAuto.
func Open(kind Kind, f *os.File, opts Options) (Ring, Kind, error) {
	if err := opts.validate(); err != nil {
		return nil, "", &fault.OpError{Op: OpInit, Err: err}
	}

	if kind == KindAuto {
		kind = KindPool
		if Available() {
			kind = KindURing
		}
	}

	switch kind {
	case KindURing:
		r, err := openURing(f, opts)
		if err != nil {
			return nil, "", err
		}
		return r, kind, nil
	case KindPool:
		p, err := NewPool(f, opts)
		if err != nil {
			return nil, "", err
		}
		return p, kind, nil
	default:
		return nil, "", &fault.OpError{Op: OpInit, Err: errors.Errorf("unknown engine %q", kind)}
	}
}
