// Package layout prepares the benchmark target: a file opened for direct,
// synchronous writes, preallocated to the full run length, with its first
// block materialized by one priming write.
package layout

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	gdisk "github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sys/unix"

	"github.com/jessegalley/diobench/internal/fault"
)

// Options controls how the target file is opened
type Options struct {
	// Direct opens the file with O_DIRECT, bypassing the page cache.
	// buffers and offsets must then be aligned to the device block size
	Direct bool

	// Dsync opens the file with O_DSYNC so every write carries its data
	// and the metadata needed to read it back
	Dsync bool

	// Preflight checks that the filesystem has room for the whole run
	// before preallocating
	Preflight bool
}

// DefaultOptions opens the target the way the benchmark always has
func DefaultOptions() Options {
	return Options{Direct: true, Dsync: true}
}

// Target is an open, preallocated benchmark file
type Target struct {
	File   *os.File // open handle, owned by the target
	Path   string   // path the file was opened at
	Length int64    // preallocated length in bytes
}

// Prepare opens path and preallocates length bytes. On failure nothing is
// left open.
func Prepare(path string, length int64, opts Options) (*Target, error) {
	// make sure the filesystem can hold the run before we start
	if opts.Preflight {
		if err := Preflight(path, length); err != nil {
			return nil, err
		}
	}

	f, err := Open(path, opts)
	if err != nil {
		return nil, err
	}

	if err := Preallocate(f, length); err != nil {
		f.Close()
		return nil, err
	}

	return &Target{File: f, Path: path, Length: length}, nil
}

// Open creates or opens path for read-write with the requested sync and
// direct I/O semantics
func Open(path string, opts Options) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if opts.Dsync {
		flags |= unix.O_DSYNC
	}
	if opts.Direct {
		flags |= unix.O_DIRECT
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fault.Wrap("open", err)
	}
	return f, nil
}

// Preflight fails when the filesystem holding path has less than length
// bytes free. Space already allocated to an existing file counts as free.
func Preflight(path string, length int64) error {
	if length <= 0 {
		return nil
	}

	usage, err := gdisk.Usage(filepath.Dir(path))
	if err != nil {
		return fault.Wrap("statfs", err)
	}

	// an existing target is overwritten in place
	var existing int64
	if fi, err := os.Stat(path); err == nil {
		existing = fi.Size()
	}

	if int64(usage.Free)+existing < length {
		return &fault.OpError{
			Op:  "statfs",
			Err: errors.Errorf("%s has %d bytes free, need %d", usage.Path, usage.Free, length),
		}
	}
	return nil
}

// Preallocate reserves length bytes for f. Zero length is a no-op.
func Preallocate(f *os.File, length int64) error {
	if length <= 0 {
		return nil
	}
	return fault.Wrap("fallocate", unix.Fallocate(int(f.Fd()), 0, 0, length))
}

// Prime writes buf once at offset 0 so the first block exists before the
// timed run starts. It is skipped when the target is shorter than buf.
func (t *Target) Prime(buf []byte) error {
	if t.Length < int64(len(buf)) {
		return nil
	}
	n, err := unix.Pwritev(int(t.File.Fd()), [][]byte{buf}, 0)
	if err != nil {
		return fault.Wrap("pwritev", err)
	}
	if n != len(buf) {
		return &fault.OpError{Op: "pwritev", Err: errors.Errorf("short write: %d of %d bytes", n, len(buf))}
	}
	return nil
}

// Close closes the file
func (t *Target) Close() error {
	return fault.Wrap("close", t.File.Close())
}
