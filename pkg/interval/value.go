package interval

import (
	"bytes"
	"math"
	"slices"
	"strconv"
)

// Kind is the one-byte type tag of a stored value.
type Kind uint8

// Value kinds. The numeric values are part of the on-disk format.
const (
	KindNull   Kind = 0
	KindInt32  Kind = 1
	KindInt64  Kind = 2
	KindDouble Kind = 3
	KindString Kind = 4
	KindCustom Kind = 5
)

// MaxPayloadLen bounds string and custom payloads (uint16 length prefix).
const MaxPayloadLen = 1<<16 - 1

// String returns the lowercase kind name used by the CLI and the input format.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindCustom:
		return "custom"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is the closed set of state values an interval can carry:
// Null, Int32, Int64, Double, String and Custom.
type Value interface {
	Kind() Kind
	String() string

	// payloadSize is the encoded size after the type tag.
	payloadSize() int
}

// Null is the absent value.
type Null struct{}

// Int32 is a signed 32-bit value.
type Int32 int32

// Int64 is a signed 64-bit value.
type Int64 int64

// Double is an IEEE 754 double value.
type Double float64

// String is a short UTF-8 string value of at most MaxPayloadLen bytes.
type String string

// Custom is an application-coded value: Code identifies the encoding of Data.
type Custom struct {
	Data []byte
	Code uint8
}

// Kind implements Value.
func (Null) Kind() Kind { return KindNull }

// Kind implements Value.
func (Int32) Kind() Kind { return KindInt32 }

// Kind implements Value.
func (Int64) Kind() Kind { return KindInt64 }

// Kind implements Value.
func (Double) Kind() Kind { return KindDouble }

// Kind implements Value.
func (String) Kind() Kind { return KindString }

// Kind implements Value.
func (Custom) Kind() Kind { return KindCustom }

func (Null) String() string { return "null" }

func (v Int32) String() string { return strconv.FormatInt(int64(v), 10) }

func (v Int64) String() string { return strconv.FormatInt(int64(v), 10) }

func (v Double) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

func (v String) String() string { return string(v) }

func (v Custom) String() string {
	return "custom(" + strconv.Itoa(int(v.Code)) + ", " + strconv.Itoa(len(v.Data)) + " bytes)"
}

func (Null) payloadSize() int     { return 0 }
func (Int32) payloadSize() int    { return sizeInt32 }
func (Int64) payloadSize() int    { return sizeInt64 }
func (Double) payloadSize() int   { return sizeInt64 }
func (v String) payloadSize() int { return sizeLen + len(v) }
func (v Custom) payloadSize() int { return sizeCode + sizeLen + len(v.Data) }

// payloadLen returns the variable-length part of v, or -1 for fixed-size kinds.
func payloadLen(v Value) int {
	switch val := v.(type) {
	case String:
		return len(val)
	case Custom:
		return len(val.Data)
	default:
		return -1
	}
}

// Equal reports whether two values have the same kind and content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ca, aok := a.(Custom)
	cb, bok := b.(Custom)

	if aok || bok {
		return aok && bok && ca.Code == cb.Code && bytes.Equal(ca.Data, cb.Data)
	}

	// Doubles compare by bit pattern so a stored NaN equals itself.
	da, aok := a.(Double)
	db, bok := b.(Double)

	if aok || bok {
		return aok && bok && math.Float64bits(float64(da)) == math.Float64bits(float64(db))
	}

	return a == b
}

// Clone returns v with its own copy of any payload bytes.
func Clone(v Value) Value {
	if c, ok := v.(Custom); ok {
		c.Data = slices.Clone(c.Data)

		return c
	}

	return v
}
