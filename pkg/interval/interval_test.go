package interval_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attr    interval.Quark
		start   int64
		end     int64
		value   interval.Value
		wantErr error
	}{
		{"valid", 1, 0, 9, interval.Int32(3), nil},
		{"instant", 1, 5, 5, interval.Null{}, nil},
		{"negative quark", -1, 0, 9, interval.Null{}, interval.ErrInvalidAttribute},
		{"reversed", 1, 9, 0, interval.Null{}, interval.ErrInvalidRange},
		{"nil value", 1, 0, 9, nil, interval.ErrNilValue},
		{"huge string", 1, 0, 9, interval.String(strings.Repeat("x", interval.MaxPayloadLen+1)), interval.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := interval.New(tt.attr, tt.start, tt.end, tt.value)
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInterval_ContainsAndIntersects(t *testing.T) {
	t.Parallel()

	iv := interval.Interval{Attribute: 1, Start: 10, End: 20, Value: interval.Null{}}

	assert.True(t, iv.Contains(10))
	assert.True(t, iv.Contains(20))
	assert.False(t, iv.Contains(21))
	assert.True(t, iv.Intersects(0, 10))
	assert.True(t, iv.Intersects(20, 30))
	assert.False(t, iv.Intersects(21, 30))
}

func TestEncodeDecode_AllKinds(t *testing.T) {
	t.Parallel()

	values := []interval.Value{
		interval.Null{},
		interval.Int32(-7),
		interval.Int64(1 << 50),
		interval.Double(2.5),
		interval.String("running"),
		interval.Custom{Code: 9, Data: []byte{1, 2, 3}},
	}

	for _, value := range values {
		t.Run(value.Kind().String(), func(t *testing.T) {
			t.Parallel()

			iv := interval.Interval{Attribute: 4, Start: -5, End: 100, Value: value}
			buf := make([]byte, iv.EncodedSize())

			w := blockio.NewWriter(buf)
			iv.Encode(w)
			assert.Zero(t, w.Remaining())

			got, err := interval.Decode(blockio.NewReader(buf))
			require.NoError(t, err)
			assert.True(t, iv.Equal(got), "decoded %v, want %v", got, iv)
		})
	}
}

func TestEncode_PastWindowPanics(t *testing.T) {
	t.Parallel()

	iv := interval.Interval{Attribute: 1, Start: 0, End: 1, Value: interval.String("abc")}
	w := blockio.NewWriter(make([]byte, iv.EncodedSize()-1))

	assert.Panics(t, func() {
		iv.Encode(w)
	})
}

func TestDecode_Truncated(t *testing.T) {
	t.Parallel()

	iv := interval.Interval{Attribute: 1, Start: 0, End: 1, Value: interval.String("abcdef")}
	buf := make([]byte, iv.EncodedSize())
	iv.Encode(blockio.NewWriter(buf))

	_, err := interval.Decode(blockio.NewReader(buf[:len(buf)-2]))
	require.ErrorIs(t, err, blockio.ErrOutOfBounds)
}

func TestDecode_UnknownKind(t *testing.T) {
	t.Parallel()

	buf := make([]byte, interval.FixedSize)
	w := blockio.NewWriter(buf)
	w.PutInt64(0)
	w.PutInt64(1)
	w.PutInt32(1)
	w.PutUint8(200)

	_, err := interval.Decode(blockio.NewReader(buf))
	require.ErrorIs(t, err, interval.ErrUnknownKind)
}

func TestDecode_ReversedRangeRejected(t *testing.T) {
	t.Parallel()

	buf := make([]byte, interval.FixedSize)
	w := blockio.NewWriter(buf)
	w.PutInt64(10)
	w.PutInt64(1)
	w.PutInt32(1)
	w.PutUint8(uint8(interval.KindNull))

	_, err := interval.Decode(blockio.NewReader(buf))
	require.ErrorIs(t, err, interval.ErrInvalidRange)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, interval.Equal(interval.Int32(1), interval.Int32(1)))
	assert.False(t, interval.Equal(interval.Int32(1), interval.Int64(1)))
	assert.True(t, interval.Equal(interval.Custom{Code: 1, Data: []byte("a")}, interval.Custom{Code: 1, Data: []byte("a")}))
	assert.False(t, interval.Equal(interval.Custom{Code: 1}, interval.Null{}))
	assert.True(t, interval.Equal(nil, nil))
	assert.True(t, interval.Equal(interval.Double(math.NaN()), interval.Double(math.NaN())))
	assert.False(t, interval.Equal(interval.Double(0), interval.Double(math.Copysign(0, -1))))
	assert.False(t, interval.Equal(interval.Double(1), interval.Int64(1)))
}

func TestNew_CopiesPayload(t *testing.T) {
	t.Parallel()

	data := []byte("abc")

	iv, err := interval.New(2, 0, 5, interval.Custom{Code: 3, Data: data})
	require.NoError(t, err)

	data[0] = 'Z'

	assert.True(t, interval.Equal(interval.Custom{Code: 3, Data: []byte("abc")}, iv.Value))
	assert.Equal(t, interval.Int32(4), interval.Clone(interval.Int32(4)))
	assert.Nil(t, interval.Clone(nil))
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "double", interval.KindDouble.String())
	assert.Equal(t, "kind(77)", interval.Kind(77).String())
}
