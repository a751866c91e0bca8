//go:build !linux

package ring

import (
	"os"

	"github.com/jessegalley/diobench/internal/fault"
)

// Available reports whether io_uring can be used; never on this platform
func Available() bool { return false }

func openURing(*os.File, Options) (Ring, error) {
	return nil, &fault.OpError{Op: OpInit, Err: ErrUnsupported}
}
