// Package safeconv provides checked integer conversions for the fixed-width
// fields of the on-disk format. The Must variants panic on overflow and are
// reserved for values whose range is already guaranteed by construction.
package safeconv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned when a value does not fit the target width.
var ErrOutOfRange = errors.New("value out of range")

// MaxUint16 is the maximum value for uint16 type.
const MaxUint16 = math.MaxUint16

// MustIntToUint32 converts int to uint32, panics on bounds violation.
func MustIntToUint32(v int) uint32 {
	if v < 0 || v > math.MaxUint32 {
		panic("safeconv: int to uint32 out of bounds")
	}

	return uint32(v)
}

// MustIntToUint16 converts int to uint16, panics on bounds violation.
func MustIntToUint16(v int) uint16 {
	if v < 0 || v > MaxUint16 {
		panic("safeconv: int to uint16 out of bounds")
	}

	return uint16(v)
}

// MustIntToInt32 converts int to int32, panics on bounds violation.
func MustIntToInt32(v int) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic("safeconv: int to int32 out of bounds")
	}

	return int32(v)
}

// Uint32ToInt converts a decoded uint32 to int. Values that cannot be used as a
// length or index on the current platform are reported as ErrOutOfRange.
func Uint32ToInt(v uint32) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}

	return int(v), nil
}

// IntToUint32 converts int to uint32, reporting negative or oversized values.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}

	return uint32(v), nil
}
