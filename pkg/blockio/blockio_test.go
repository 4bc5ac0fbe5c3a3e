package blockio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
)

const testWindow = 32

func TestWriterReader_RoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, testWindow)
	w := blockio.NewWriter(buf)

	w.PutUint8(7)
	w.PutUint16(65000)
	w.PutInt32(-42)
	w.PutInt64(-1 << 40)
	w.PutFloat64(3.25)
	w.PutBytes([]byte("ab"))

	assert.Equal(t, 1+2+4+8+8+2, w.Offset())

	r := blockio.NewReader(buf)

	assert.Equal(t, uint8(7), r.Uint8())
	assert.Equal(t, uint16(65000), r.Uint16())
	assert.Equal(t, int32(-42), r.Int32())
	assert.Equal(t, int64(-1<<40), r.Int64())
	assert.InDelta(t, 3.25, r.Float64(), 0)
	assert.Equal(t, []byte("ab"), r.Bytes(2))
	require.NoError(t, r.Err())
}

func TestWriter_OverflowPanics(t *testing.T) {
	t.Parallel()

	w := blockio.NewWriter(make([]byte, 6))
	w.PutUint32(1)

	assert.Panics(t, func() {
		w.PutUint32(2)
	})
}

func TestWriter_SeekOutsidePanics(t *testing.T) {
	t.Parallel()

	w := blockio.NewWriter(make([]byte, 4))

	assert.Panics(t, func() {
		w.Seek(5)
	})
}

func TestWriter_ZeroClearsTail(t *testing.T) {
	t.Parallel()

	buf := []byte{9, 9, 9, 9}
	w := blockio.NewWriter(buf)
	w.PutUint8(1)
	w.Zero()

	assert.Equal(t, []byte{1, 0, 0, 0}, buf)
	assert.Equal(t, 0, w.Remaining())
}

func TestReader_OutOfBoundsIsSticky(t *testing.T) {
	t.Parallel()

	r := blockio.NewReader([]byte{1, 2, 3})

	assert.Equal(t, uint16(0x0201), r.Uint16())
	assert.Zero(t, r.Uint32())
	require.ErrorIs(t, r.Err(), blockio.ErrOutOfBounds)

	// Later reads keep returning zero values and the first error.
	assert.Zero(t, r.Uint8())
	assert.Nil(t, r.Bytes(1))
	require.ErrorIs(t, r.Err(), blockio.ErrOutOfBounds)
}

func TestReader_NegativeLength(t *testing.T) {
	t.Parallel()

	r := blockio.NewReader([]byte{1, 2, 3})

	assert.Nil(t, r.Bytes(-1))
	require.ErrorIs(t, r.Err(), blockio.ErrOutOfBounds)
}

func TestChecksum_DetectsFlip(t *testing.T) {
	t.Parallel()

	const sumOffset = 8

	block := make([]byte, testWindow)
	copy(block, "payload!")
	block[20] = 0x5a

	blockio.StampChecksum(block, sumOffset)
	require.NoError(t, blockio.VerifyChecksum(block, sumOffset))

	block[20] ^= 0x01

	require.ErrorIs(t, blockio.VerifyChecksum(block, sumOffset), blockio.ErrChecksum)
}

func TestVerifyChecksum_FieldOutsideWindow(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, blockio.VerifyChecksum(make([]byte, 4), 0), blockio.ErrOutOfBounds)
}
