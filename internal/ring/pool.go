package ring

import (
	"io"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/jessegalley/diobench/internal/fault"
)

// Pool emulates the ring contract with blocking writers.
//
// A counting semaphore of size Entries plays the role of the submission
// slots: TryQueue takes a unit, Ack gives it back. Because a unit is held
// from staging until acknowledgement, at most Entries completions can ever
// be pending, so workers never block delivering to the completion channel.
type Pool struct {
	w      io.WriterAt
	slots  *semaphore.Weighted
	staged []job
	jobs   chan job        // staged writes handed to workers by Submit
	done   chan Completion // finished writes waiting to be reaped
	closed chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// job is a single staged write
type job struct {
	buf      []byte
	off      int64
	userData uint64
}

// NewPool starts the writer goroutines for w
func NewPool(w io.WriterAt, opts Options) (*Pool, error) {
	if err := opts.validate(); err != nil {
		return nil, &fault.OpError{Op: OpInit, Err: err}
	}

	workers := opts.Workers
	if workers == 0 {
		workers = int(opts.Entries)
	}

	p := &Pool{
		w:      w,
		slots:  semaphore.NewWeighted(int64(opts.Entries)),
		staged: make([]job, 0, opts.Entries),
		jobs:   make(chan job, opts.Entries),
		done:   make(chan Completion, opts.Entries),
		closed: make(chan struct{}),
	}

	// launch writers
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p, nil
}

// worker performs staged writes until the job channel is closed
func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.jobs {
		n, err := p.w.WriteAt(j.buf, j.off)
		res := int32(n)
		if err != nil {
			res = -int32(errnoOf(err))
		}
		p.done <- Completion{UserData: j.userData, Res: res}
	}
}

// errnoOf extracts the errno behind a write error, EIO when there is none
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno
	}
	return syscall.EIO
}

func (p *Pool) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Pool) TryQueue(buf []byte, off int64, userData uint64) (bool, error) {
	if p.isClosed() {
		return false, ErrClosed
	}
	if !p.slots.TryAcquire(1) {
		return false, nil
	}
	p.staged = append(p.staged, job{buf: buf, off: off, userData: userData})
	return true, nil
}

func (p *Pool) Submit() (int, error) {
	if p.isClosed() {
		return 0, &fault.OpError{Op: OpSubmit, Err: ErrClosed}
	}

	// the job channel is as deep as the semaphore, so this never blocks
	n := len(p.staged)
	for _, j := range p.staged {
		p.jobs <- j
	}
	p.staged = p.staged[:0]
	return n, nil
}

func (p *Pool) Wait() (Completion, error) {
	select {
	case c := <-p.done:
		return c, nil
	case <-p.closed:
		return Completion{}, &fault.OpError{Op: OpWait, Err: ErrClosed}
	}
}

func (p *Pool) Poll() (Completion, bool, error) {
	if p.isClosed() {
		return Completion{}, false, &fault.OpError{Op: OpPeek, Err: ErrClosed}
	}
	select {
	case c := <-p.done:
		return c, true, nil
	default:
		return Completion{}, false, nil
	}
}

func (p *Pool) Ack(Completion) {
	p.slots.Release(1)
}

// Close stops the workers after they finish any write already handed to
// them. Staged but unsubmitted writes are dropped.
func (p *Pool) Close() error {
	p.once.Do(func() {
		close(p.closed)
		close(p.jobs)
		p.wg.Wait()
	})
	return nil
}
