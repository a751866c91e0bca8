package layout

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jessegalley/diobench/internal/fault"
)

// tmpfs and overlay test dirs reject O_DIRECT, so tests open buffered
var testOpts = Options{Dsync: true}

func TestPreparePreallocates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")

	target, err := Prepare(path, 1<<20, testOpts)
	require.NoError(t, err)
	defer target.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, fi.Size())
	assert.Equal(t, path, target.Path)
	assert.EqualValues(t, 1<<20, target.Length)
}

func TestPrepareZeroLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")

	target, err := Prepare(path, 0, testOpts)
	require.NoError(t, err)
	defer target.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	// nothing to prime in an empty target
	require.NoError(t, target.Prime(bytes.Repeat([]byte{'A'}, 4096)))
	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestPrimeWritesFirstBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")

	target, err := Prepare(path, 4*4096, testOpts)
	require.NoError(t, err)
	defer target.Close()

	block := bytes.Repeat([]byte{'A'}, 4096)
	require.NoError(t, target.Prime(block))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 4*4096)
	assert.Equal(t, block, data[:4096])
	assert.Equal(t, make([]byte, 3*4096), data[4096:])
}

func TestOpenFailureNamesStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "target")

	_, err := Prepare(path, 4096, testOpts)
	require.Error(t, err)
	assert.Equal(t, "open", fault.Op(err))
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.Equal(t, "open: "+syscall.ENOENT.Error(), err.Error())
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")

	assert.NoError(t, Preflight(path, 0))
	assert.NoError(t, Preflight(path, 4096))

	err := Preflight(path, 1<<62)
	require.Error(t, err)
	assert.Equal(t, "statfs", fault.Op(err))

	// the failed preflight keeps Prepare from creating the file
	opts := testOpts
	opts.Preflight = true
	_, err = Prepare(path, 1<<62, opts)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.Direct)
	assert.True(t, opts.Dsync)
	assert.False(t, opts.Preflight)
}
