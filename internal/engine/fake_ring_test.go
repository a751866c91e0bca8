package engine

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/jessegalley/diobench/internal/fault"
	"github.com/jessegalley/diobench/internal/ring"
)

// fakeRing is an in-memory ring that completes writes in a scripted order
type fakeRing struct {
	slots int // ring-side slot limit, independent of the engine's queue depth

	staged    []ring.Completion
	pending   []ring.Completion // submitted, not yet reaped
	unacked   int               // staged or submitted, not yet acknowledged
	maxUnack  int
	offsets   []int64 // every offset queued, in order
	submits   int
	waits     int
	polls     int
	acks      int
	closes    int
	afterFail int // ring calls made after the injected failure
	polledNow int
	failed    bool

	// scripting
	rng          *rand.Rand                     // shuffles pending completions on submit when set
	readyPerPoll int                            // completions Poll returns per drain, 0 means unlimited
	failSubmitOn int                            // 1-based submit call that fails, 0 never
	result       func(off int64) int32          // result code per offset, nil means the full buffer
	duplicate    bool                           // deliver the first completion twice
	closeErr     error                          // returned by Close
	userDataOf   func(c ring.Completion) uint64 // rewrites user data on delivery
}

func newFakeRing(slots int) *fakeRing {
	return &fakeRing{slots: slots}
}

func (f *fakeRing) touch() {
	if f.failed {
		f.afterFail++
	}
}

func (f *fakeRing) TryQueue(buf []byte, off int64, userData uint64) (bool, error) {
	f.touch()
	if f.unacked >= f.slots {
		return false, nil
	}
	res := int32(len(buf))
	if f.result != nil {
		res = f.result(off)
	}
	f.staged = append(f.staged, ring.Completion{UserData: userData, Res: res})
	f.offsets = append(f.offsets, off)
	f.unacked++
	if f.unacked > f.maxUnack {
		f.maxUnack = f.unacked
	}
	return true, nil
}

func (f *fakeRing) Submit() (int, error) {
	f.touch()
	f.submits++
	if f.failSubmitOn != 0 && f.submits == f.failSubmitOn {
		f.failed = true
		return 0, &fault.OpError{Op: ring.OpSubmit, Err: errors.New("injected submit failure")}
	}
	n := len(f.staged)
	f.pending = append(f.pending, f.staged...)
	f.staged = f.staged[:0]
	if f.rng != nil {
		f.rng.Shuffle(len(f.pending), func(i, j int) {
			f.pending[i], f.pending[j] = f.pending[j], f.pending[i]
		})
	}
	return n, nil
}

func (f *fakeRing) next() ring.Completion {
	c := f.pending[0]
	if f.duplicate {
		f.duplicate = false
	} else {
		f.pending = f.pending[1:]
	}
	if f.userDataOf != nil {
		c.UserData = f.userDataOf(c)
	}
	return c
}

func (f *fakeRing) Wait() (ring.Completion, error) {
	f.touch()
	f.waits++
	f.polledNow = 0
	if len(f.pending) == 0 {
		// a real ring would block forever here
		return ring.Completion{}, &fault.OpError{Op: ring.OpWait, Err: errors.New("wait with nothing submitted")}
	}
	return f.next(), nil
}

func (f *fakeRing) Poll() (ring.Completion, bool, error) {
	f.touch()
	f.polls++
	if len(f.pending) == 0 || (f.readyPerPoll > 0 && f.polledNow >= f.readyPerPoll) {
		return ring.Completion{}, false, nil
	}
	f.polledNow++
	return f.next(), true, nil
}

func (f *fakeRing) Ack(ring.Completion) {
	f.touch()
	f.acks++
	f.unacked--
}

func (f *fakeRing) Close() error {
	f.closes++
	return f.closeErr
}
