//go:build linux

package ring

import (
	"errors"
	"os"
	"syscall"

	"github.com/godzie44/go-uring/uring"

	"github.com/jessegalley/diobench/internal/fault"
)

// URing is a Ring backed by the kernel io_uring facility
type URing struct {
	ring   *uring.Ring
	fd     uintptr
	closed bool
}

// NewURing sets up an io_uring instance for writes to f
func NewURing(f *os.File, opts Options) (*URing, error) {
	if err := opts.validate(); err != nil {
		return nil, &fault.OpError{Op: OpInit, Err: err}
	}

	r, err := uring.New(opts.Entries, setupOptions(opts)...)
	if err != nil {
		return nil, fault.Wrap(OpInit, err)
	}

	return &URing{ring: r, fd: f.Fd()}, nil
}

func openURing(f *os.File, opts Options) (Ring, error) {
	r, err := NewURing(f, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// setupOptions translates Options into io_uring setup flags
func setupOptions(opts Options) []uring.SetupOption {
	var so []uring.SetupOption

	// kernel side submission polling, optionally pinned to one cpu
	if opts.SQPoll {
		so = append(so, uring.WithSQPoll(opts.SQThreadIdle))
		if opts.SQThreadCPU >= 0 {
			so = append(so, uring.WithSQThreadCPU(uint32(opts.SQThreadCPU)))
		}
	}

	// busy-poll completions, only valid for O_DIRECT files on polled devices
	if opts.IOPoll {
		so = append(so, uring.WithIOPoll())
	}

	if opts.CQSize > 0 {
		so = append(so, uring.WithCQSize(opts.CQSize))
	}

	return so
}

// Available reports whether the kernel lets us create an io_uring instance
func Available() bool {
	r, err := uring.New(1)
	if err != nil {
		return false
	}
	_ = r.Close()
	return true
}

func (u *URing) TryQueue(buf []byte, off int64, userData uint64) (bool, error) {
	if u.closed {
		return false, ErrClosed
	}
	// QueueSQE only fails when no submission queue entry is free
	if err := u.ring.QueueSQE(uring.Write(u.fd, buf, uint64(off)), 0, userData); err != nil {
		return false, nil
	}
	return true, nil
}

func (u *URing) Submit() (int, error) {
	if u.closed {
		return 0, &fault.OpError{Op: OpSubmit, Err: ErrClosed}
	}
	n, err := u.ring.Submit()
	if err != nil {
		return 0, fault.Wrap(OpSubmit, err)
	}
	return int(n), nil
}

func (u *URing) Wait() (Completion, error) {
	if u.closed {
		return Completion{}, &fault.OpError{Op: OpWait, Err: ErrClosed}
	}

	// the go runtime preempts with signals, so the enter syscall is
	// restarted on EINTR rather than treated as a failure
	for {
		cqe, err := u.ring.WaitCQEvents(1)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return Completion{}, fault.Wrap(OpWait, err)
		}
		if cqe == nil {
			continue
		}
		return completionOf(cqe), nil
	}
}

func (u *URing) Poll() (Completion, bool, error) {
	if u.closed {
		return Completion{}, false, &fault.OpError{Op: OpPeek, Err: ErrClosed}
	}

	cqe, err := u.ring.PeekCQE()
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
			return Completion{}, false, nil
		}
		return Completion{}, false, fault.Wrap(OpPeek, err)
	}
	if cqe == nil {
		return Completion{}, false, nil
	}
	return completionOf(cqe), true, nil
}

func (u *URing) Ack(c Completion) {
	if cqe, ok := c.ref.(*uring.CQEvent); ok && !u.closed {
		u.ring.SeenCQE(cqe)
	}
}

func (u *URing) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	return fault.Wrap("ring_exit", u.ring.Close())
}

// completionOf copies the fields we need out of the shared cq entry
func completionOf(cqe *uring.CQEvent) Completion {
	return Completion{UserData: cqe.UserData, Res: cqe.Res, ref: cqe}
}
