// Package interval defines the immutable unit of stored history, an
// (attribute, start, end, value) record, and its bounded binary encoding.
package interval

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
)

// Encoded field sizes.
const (
	sizeInt32 = blockio.SizeInt32
	sizeInt64 = blockio.SizeInt64
	sizeLen   = blockio.SizeUint16
	sizeCode  = blockio.SizeUint8
	sizeTag   = blockio.SizeUint8

	// FixedSize is the encoded size of an interval excluding its value payload:
	// start, end, attribute and the value tag.
	FixedSize = sizeInt64 + sizeInt64 + sizeInt32 + sizeTag
)

// Sentinel errors.
var (
	ErrInvalidRange     = errors.New("interval end precedes start")
	ErrInvalidAttribute = errors.New("attribute quark must be non-negative")
	ErrPayloadTooLarge  = errors.New("value payload too large")
	ErrUnknownKind      = errors.New("unknown value kind")
	ErrNilValue         = errors.New("nil value")
)

// Quark is the integer handle of an attribute.
type Quark = int32

// Interval is a constant state of one attribute over the closed range [Start, End].
type Interval struct {
	Value     Value
	Start     int64
	End       int64
	Attribute Quark
}

// New builds a validated interval that owns its payload.
func New(attribute Quark, start, end int64, value Value) (Interval, error) {
	iv := Interval{Attribute: attribute, Start: start, End: end, Value: Clone(value)}

	err := iv.Validate()
	if err != nil {
		return Interval{}, err
	}

	return iv, nil
}

// Validate checks the interval invariants.
func (iv Interval) Validate() error {
	if iv.Attribute < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAttribute, iv.Attribute)
	}

	if iv.End < iv.Start {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, iv.Start, iv.End)
	}

	if iv.Value == nil {
		return ErrNilValue
	}

	if n := payloadLen(iv.Value); n > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, n, MaxPayloadLen)
	}

	return nil
}

// Contains reports whether t lies in [Start, End].
func (iv Interval) Contains(t int64) bool {
	return iv.Start <= t && t <= iv.End
}

// Intersects reports whether [Start, End] overlaps [t0, t1].
func (iv Interval) Intersects(t0, t1 int64) bool {
	return iv.Start <= t1 && t0 <= iv.End
}

// Equal reports whether both intervals carry the same fields.
func (iv Interval) Equal(other Interval) bool {
	return iv.Attribute == other.Attribute &&
		iv.Start == other.Start &&
		iv.End == other.End &&
		Equal(iv.Value, other.Value)
}

func (iv Interval) String() string {
	return fmt.Sprintf("{quark=%d [%d, %d] %s=%s}", iv.Attribute, iv.Start, iv.End, iv.Value.Kind(), iv.Value)
}

// EncodedSize returns the number of bytes Encode writes.
func (iv Interval) EncodedSize() int {
	return FixedSize + iv.Value.payloadSize()
}

// Encode writes the interval. The caller must have checked EncodedSize
// against the remaining window; overflowing it panics.
func (iv Interval) Encode(w *blockio.Writer) {
	w.PutInt64(iv.Start)
	w.PutInt64(iv.End)
	w.PutInt32(iv.Attribute)
	w.PutUint8(uint8(iv.Value.Kind()))

	switch val := iv.Value.(type) {
	case Null:
	case Int32:
		w.PutInt32(int32(val))
	case Int64:
		w.PutInt64(int64(val))
	case Double:
		w.PutFloat64(float64(val))
	case String:
		w.PutUint16(safeconv.MustIntToUint16(len(val)))
		w.PutBytes([]byte(val))
	case Custom:
		w.PutUint8(val.Code)
		w.PutUint16(safeconv.MustIntToUint16(len(val.Data)))
		w.PutBytes(val.Data)
	}
}

// Decode reads one interval. Out-of-window reads and invalid fields are
// reported as errors, never panics.
func Decode(r *blockio.Reader) (Interval, error) {
	iv := Interval{
		Start:     r.Int64(),
		End:       r.Int64(),
		Attribute: r.Int32(),
	}

	kind := Kind(r.Uint8())

	switch kind {
	case KindNull:
		iv.Value = Null{}
	case KindInt32:
		iv.Value = Int32(r.Int32())
	case KindInt64:
		iv.Value = Int64(r.Int64())
	case KindDouble:
		iv.Value = Double(r.Float64())
	case KindString:
		n := int(r.Uint16())
		iv.Value = String(r.Bytes(n))
	case KindCustom:
		code := r.Uint8()
		n := int(r.Uint16())
		iv.Value = Custom{Code: code, Data: r.Bytes(n)}
	default:
		if r.Err() != nil {
			return Interval{}, fmt.Errorf("decode interval: %w", r.Err())
		}

		return Interval{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	if r.Err() != nil {
		return Interval{}, fmt.Errorf("decode interval: %w", r.Err())
	}

	err := iv.Validate()
	if err != nil {
		return Interval{}, fmt.Errorf("decode interval: %w", err)
	}

	return iv, nil
}
