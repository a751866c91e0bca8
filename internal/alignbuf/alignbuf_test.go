package alignbuf

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAligned(t *testing.T) {
	for _, tc := range []struct {
		name      string
		size      int
		alignment int
	}{
		{"page", 4096, 4096},
		{"sector", 512, 512},
		{"large block", 1 << 20, 4096},
		{"beyond page", 8192, 1 << 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := New(tc.size, tc.alignment)
			require.NoError(t, err)
			defer b.Close()

			buf := b.Bytes()
			assert.Len(t, buf, tc.size)
			addr := uintptr(unsafe.Pointer(&buf[0]))
			assert.Zero(t, addr%uintptr(tc.alignment))
		})
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New(0, 4096)
	assert.EqualError(t, err, "buffer size must be positive, got 0")

	_, err = New(4096, 3000)
	assert.EqualError(t, err, "alignment must be a power of two, got 3000")

	_, err = New(4096, 0)
	assert.Error(t, err)
}

func TestFill(t *testing.T) {
	b, err := New(4096, 4096)
	require.NoError(t, err)
	defer b.Close()

	b.Fill(DefaultFill)
	for _, v := range b.Bytes() {
		if v != 'A' {
			t.Fatalf("unexpected byte %q", v)
		}
	}
}

func TestCloseTwice(t *testing.T) {
	b, err := New(4096, 4096)
	require.NoError(t, err)

	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
	assert.Nil(t, b.Bytes())
}
