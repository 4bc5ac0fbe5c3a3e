// Package blockio provides little-endian fixed-width field encoding over a
// fixed-size byte window, plus xxhash64 block checksums.
//
// Writers panic when asked to write past their window: every caller sizes its
// payload before encoding, so an overflow is a programming error. Readers never
// panic; reading past the window records a sticky ErrOutOfBounds, because the
// bytes being decoded come from disk and may be corrupt.
package blockio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Field widths in bytes.
const (
	SizeUint8   = 1
	SizeUint16  = 2
	SizeUint32  = 4
	SizeUint64  = 8
	SizeInt32   = SizeUint32
	SizeInt64   = SizeUint64
	SizeFloat64 = SizeUint64
)

// Sentinel errors.
var (
	ErrOutOfBounds = errors.New("read past block window")
	ErrChecksum    = errors.New("checksum mismatch")
)

// Writer encodes fields sequentially into a fixed window.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a Writer over buf. The window is exactly len(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Offset returns the current write position.
func (w *Writer) Offset() int { return w.off }

// Remaining returns the number of bytes left in the window.
func (w *Writer) Remaining() int { return len(w.buf) - w.off }

// Seek moves the write position. Seeking outside the window panics.
func (w *Writer) Seek(off int) {
	if off < 0 || off > len(w.buf) {
		panic(fmt.Sprintf("blockio: seek to %d outside window of %d bytes", off, len(w.buf)))
	}

	w.off = off
}

// reserve returns the next n bytes of the window and advances past them.
func (w *Writer) reserve(n int) []byte {
	if n > w.Remaining() {
		panic(fmt.Sprintf("blockio: write of %d bytes at offset %d overflows window of %d bytes", n, w.off, len(w.buf)))
	}

	out := w.buf[w.off : w.off+n]
	w.off += n

	return out
}

// PutUint8 writes one byte.
func (w *Writer) PutUint8(v uint8) { w.reserve(SizeUint8)[0] = v }

// PutUint16 writes a uint16.
func (w *Writer) PutUint16(v uint16) { binary.LittleEndian.PutUint16(w.reserve(SizeUint16), v) }

// PutUint32 writes a uint32.
func (w *Writer) PutUint32(v uint32) { binary.LittleEndian.PutUint32(w.reserve(SizeUint32), v) }

// PutInt32 writes an int32 in two's complement.
func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

// PutUint64 writes a uint64.
func (w *Writer) PutUint64(v uint64) { binary.LittleEndian.PutUint64(w.reserve(SizeUint64), v) }

// PutInt64 writes an int64 in two's complement.
func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

// PutFloat64 writes the IEEE 754 bits of v.
func (w *Writer) PutFloat64(v float64) { w.PutUint64(math.Float64bits(v)) }

// PutBytes copies b into the window.
func (w *Writer) PutBytes(b []byte) { copy(w.reserve(len(b)), b) }

// Zero clears the rest of the window so stale bytes never reach disk.
func (w *Writer) Zero() {
	clear(w.buf[w.off:])
	w.off = len(w.buf)
}

// Reader decodes fields sequentially from a fixed window.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes in the window.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err returns the first out-of-bounds error, if any.
func (r *Reader) Err() error { return r.err }

// Seek moves the read position, recording ErrOutOfBounds when off is outside the window.
func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.buf) {
		r.fail(off - r.off)

		return
	}

	r.off = off
}

func (r *Reader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %d bytes at offset %d, window %d", ErrOutOfBounds, n, r.off, len(r.buf))
	}
}

// take returns the next n bytes, or nil once the reader has failed.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || n > r.Remaining() {
		r.fail(n)

		return nil
	}

	out := r.buf[r.off : r.off+n]
	r.off += n

	return out
}

// Uint8 reads one byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(SizeUint8)
	if b == nil {
		return 0
	}

	return b[0]
}

// Uint16 reads a uint16.
func (r *Reader) Uint16() uint16 {
	b := r.take(SizeUint16)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(SizeUint32)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

// Int32 reads an int32.
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// Uint64 reads a uint64.
func (r *Reader) Uint64() uint64 {
	b := r.take(SizeUint64)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

// Int64 reads an int64.
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

// Float64 reads an IEEE 754 double.
func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

// Bytes reads n bytes into a freshly allocated slice.
func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}

	out := make([]byte, n)
	copy(out, b)

	return out
}

// Checksum computes the xxhash64 of block, skipping the 8-byte checksum
// field stored at sumOffset.
func Checksum(block []byte, sumOffset int) uint64 {
	digest := xxhash.New()

	// Digest.Write never fails.
	_, _ = digest.Write(block[:sumOffset])
	_, _ = digest.Write(block[sumOffset+SizeUint64:])

	return digest.Sum64()
}

// StampChecksum computes the checksum of block and stores it at sumOffset.
func StampChecksum(block []byte, sumOffset int) {
	binary.LittleEndian.PutUint64(block[sumOffset:], Checksum(block, sumOffset))
}

// VerifyChecksum reports ErrChecksum when the stored checksum does not match.
func VerifyChecksum(block []byte, sumOffset int) error {
	if sumOffset < 0 || sumOffset+SizeUint64 > len(block) {
		return fmt.Errorf("%w: checksum field at %d, window %d", ErrOutOfBounds, sumOffset, len(block))
	}

	stored := binary.LittleEndian.Uint64(block[sumOffset:])

	computed := Checksum(block, sumOffset)
	if stored != computed {
		return fmt.Errorf("%w: stored %#x, computed %#x", ErrChecksum, stored, computed)
	}

	return nil
}
