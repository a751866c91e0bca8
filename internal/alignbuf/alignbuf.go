// Package alignbuf provides the single block-sized, alignment-compliant
// buffer that every direct I/O write in a run reuses.
package alignbuf

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/jessegalley/diobench/internal/fault"
)

// DefaultFill is the byte every block is filled with ('A')
const DefaultFill byte = 65

// Buffer is an anonymous memory mapping sliced to an aligned block
type Buffer struct {
	mem []byte // the full mapping, released on Close
	buf []byte // aligned view of exactly size bytes
}

// New maps size bytes aligned to alignment. alignment must be a power of two.
func New(size, alignment int) (*Buffer, error) {
	// validate the requested geometry
	if size <= 0 {
		return nil, errors.Errorf("buffer size must be positive, got %d", size)
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, errors.Errorf("alignment must be a power of two, got %d", alignment)
	}

	// mappings are page aligned already, only over-allocate when the
	// caller asks for more than a page
	total := size
	if alignment > unix.Getpagesize() {
		total += alignment
	}

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fault.Wrap("mmap", err)
	}

	return &Buffer{
		mem: mem,
		buf: alignSlice(mem, alignment)[:size],
	}, nil
}

// alignSlice returns the suffix of buf that starts on an alignment boundary
func alignSlice(buf []byte, alignment int) []byte {
	// calculate offset needed for alignment
	addr := uintptr(unsafe.Pointer(&buf[0]))
	alignmentUptr := uintptr(alignment)
	offset := int(alignmentUptr - (addr & (alignmentUptr - 1)))

	// already aligned
	if offset == alignment {
		return buf
	}
	return buf[offset:]
}

// Fill sets every byte of the block to v
func (b *Buffer) Fill(v byte) {
	for i := range b.buf {
		b.buf[i] = v
	}
}

// Bytes returns the aligned block. It is nil after Close.
func (b *Buffer) Bytes() []byte { return b.buf }

// Close unmaps the buffer. Calling it more than once is a no-op.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem, b.buf = nil, nil
	return fault.Wrap("munmap", unix.Munmap(mem))
}
