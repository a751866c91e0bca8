package fault

import (
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("open", nil))
}

func TestWrapReducesPathError(t *testing.T) {
	pe := &os.PathError{Op: "open", Path: "/nope", Err: syscall.ENOENT}

	err := Wrap("open", pe)

	require.Error(t, err)
	assert.Equal(t, "open: "+syscall.ENOENT.Error(), err.Error())
	assert.Equal(t, "open", Op(err))
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestErrno(t *testing.T) {
	err := Errno("write", -int32(syscall.EIO))

	assert.Equal(t, "write: "+syscall.EIO.Error(), err.Error())
	assert.ErrorIs(t, err, syscall.EIO)
}

func TestOpThroughPkgErrors(t *testing.T) {
	err := errors.Wrap(Wrap("fallocate", syscall.ENOSPC), "prepare target")

	assert.Equal(t, "fallocate", Op(err))
	assert.Equal(t, syscall.ENOSPC, errors.Cause(err))
	assert.Equal(t, "", Op(errors.New("plain")))
}
