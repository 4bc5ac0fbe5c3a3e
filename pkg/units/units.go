// Package units provides binary size unit multipliers (1024-based) and
// parsing of human-readable sizes such as "64KiB" or "1 MB".
package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Binary size multipliers.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// ErrSizeTooLarge is returned when a parsed size does not fit in an int64.
var ErrSizeTooLarge = errors.New("size too large")

// ParseSize parses a human-readable byte size. Both SI ("64KB") and IEC
// ("64KiB") suffixes are accepted; a bare number is a byte count.
func ParseSize(raw string) (int64, error) {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", raw, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrSizeTooLarge, raw)
	}

	return int64(n), nil
}

// FormatSize renders a byte count with IEC units.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}

	return humanize.IBytes(uint64(n))
}
