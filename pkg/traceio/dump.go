package traceio

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
)

// Dump identification.
const (
	// DumpMagic starts every decompressed dump stream ("HTDP").
	DumpMagic uint32 = 0x50445448

	// DumpVersion is the only dump layout this package reads.
	DumpVersion uint32 = 1
)

// Dump layout sizes.
const (
	// dumpHeaderSize covers magic, version, provider version, block size,
	// max children, tree start, tree end and the attribute count.
	dumpHeaderSize = 5*blockio.SizeUint32 + 2*blockio.SizeInt64 + blockio.SizeUint32

	// maxRecordSize is the largest encoded interval: a custom value at the payload limit.
	maxRecordSize = interval.FixedSize + blockio.SizeUint8 + blockio.SizeUint16 + interval.MaxPayloadLen
)

// ErrDumpFormat is returned for a stream that is not a readable dump.
var ErrDumpFormat = errors.New("invalid interval dump")

// DumpHeader describes the store a dump was taken from.
type DumpHeader struct {
	TreeStart       int64
	TreeEnd         int64
	BlockSize       int
	MaxChildren     int
	ProviderVersion uint32
}

// Export writes every interval of store to w as an LZ4 frame, in an order
// Import can insert back, together with the attribute names of reg (which
// may be nil). It returns the number of intervals written.
func Export(ctx context.Context, w io.Writer, store *statestore.Store, reg *Registry) (int, error) {
	info, err := store.Info()
	if err != nil {
		return 0, err
	}

	var all []interval.Interval

	for iv, err := range store.QueryRange(ctx, statestore.AnyAttribute, info.TreeStart, info.TreeEnd) {
		if err != nil {
			return 0, err
		}

		all = append(all, iv)
	}

	// Stored intervals never overlap beyond a shared instant, so start then
	// end order is a valid insertion order.
	slices.SortStableFunc(all, func(a, b interval.Interval) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End))
	})

	zw := lz4.NewWriter(w)
	bw := bufio.NewWriter(zw)

	var names []string
	if reg != nil {
		names = reg.Names()
	}

	err = writeDumpHeader(bw, DumpHeader{
		TreeStart:       info.TreeStart,
		TreeEnd:         info.TreeEnd,
		BlockSize:       info.BlockSize,
		MaxChildren:     info.MaxChildren,
		ProviderVersion: info.ProviderVersion,
	}, names)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, blockio.SizeUint32+maxRecordSize)

	for _, iv := range all {
		size := iv.EncodedSize()
		bio := blockio.NewWriter(buf[:blockio.SizeUint32+size])
		bio.PutUint32(safeconv.MustIntToUint32(size))
		iv.Encode(bio)

		_, err = bw.Write(buf[:blockio.SizeUint32+size])
		if err != nil {
			return 0, fmt.Errorf("write dump: %w", err)
		}
	}

	// A zero length ends the record section.
	_, err = bw.Write(make([]byte, blockio.SizeUint32))
	if err == nil {
		err = bw.Flush()
	}

	if err == nil {
		err = zw.Close()
	}

	if err != nil {
		return 0, fmt.Errorf("write dump: %w", err)
	}

	return len(all), nil
}

func writeDumpHeader(w io.Writer, header DumpHeader, names []string) error {
	buf := make([]byte, dumpHeaderSize)
	bio := blockio.NewWriter(buf)

	bio.PutUint32(DumpMagic)
	bio.PutUint32(DumpVersion)
	bio.PutUint32(header.ProviderVersion)
	bio.PutUint32(safeconv.MustIntToUint32(header.BlockSize))
	bio.PutUint32(safeconv.MustIntToUint32(header.MaxChildren))
	bio.PutInt64(header.TreeStart)
	bio.PutInt64(header.TreeEnd)
	bio.PutUint32(safeconv.MustIntToUint32(len(names)))

	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("write dump header: %w", err)
	}

	for _, name := range names {
		entry := make([]byte, blockio.SizeUint16+len(name))
		bio = blockio.NewWriter(entry)
		bio.PutUint16(safeconv.MustIntToUint16(len(name)))
		bio.PutBytes([]byte(name))

		_, err = w.Write(entry)
		if err != nil {
			return fmt.Errorf("write dump header: %w", err)
		}
	}

	return nil
}

// DumpReader decodes a dump written by Export.
type DumpReader struct {
	r        *bufio.Reader
	registry *Registry
	header   DumpHeader
}

// NewDumpReader reads and checks the dump header and attribute names.
func NewDumpReader(r io.Reader) (*DumpReader, error) {
	br := bufio.NewReader(lz4.NewReader(r))

	buf := make([]byte, dumpHeaderSize)

	err := readFull(br, buf)
	if err != nil {
		return nil, err
	}

	bio := blockio.NewReader(buf)

	if magic := bio.Uint32(); magic != DumpMagic {
		return nil, fmt.Errorf("%w: magic %#x, want %#x", ErrDumpFormat, magic, DumpMagic)
	}

	if version := bio.Uint32(); version != DumpVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrDumpFormat, version, DumpVersion)
	}

	dr := &DumpReader{r: br, registry: NewRegistry()}
	dr.header.ProviderVersion = bio.Uint32()
	blockSize := bio.Uint32()
	maxChildren := bio.Uint32()
	dr.header.TreeStart = bio.Int64()
	dr.header.TreeEnd = bio.Int64()
	nameCount := bio.Uint32()

	dr.header.BlockSize, err = safeconv.Uint32ToInt(blockSize)
	if err == nil {
		dr.header.MaxChildren, err = safeconv.Uint32ToInt(maxChildren)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDumpFormat, err)
	}

	lenBuf := make([]byte, blockio.SizeUint16)

	for range nameCount {
		err = readFull(br, lenBuf)
		if err != nil {
			return nil, err
		}

		name := make([]byte, blockio.NewReader(lenBuf).Uint16())

		err = readFull(br, name)
		if err != nil {
			return nil, err
		}

		_, err = dr.registry.Quark(string(name))
		if err != nil {
			return nil, err
		}
	}

	return dr, nil
}

// Header returns the source store description.
func (dr *DumpReader) Header() DumpHeader { return dr.header }

// Registry returns the attribute names carried by the dump.
func (dr *DumpReader) Registry() *Registry { return dr.registry }

// Intervals yields the dumped intervals in insertion order. A decoding
// error is yielded once and ends the sequence.
func (dr *DumpReader) Intervals() iter.Seq2[interval.Interval, error] {
	return func(yield func(interval.Interval, error) bool) {
		lenBuf := make([]byte, blockio.SizeUint32)

		for {
			err := readFull(dr.r, lenBuf)
			if err != nil {
				yield(interval.Interval{}, err)

				return
			}

			size := blockio.NewReader(lenBuf).Uint32()
			if size == 0 {
				return
			}

			if size > maxRecordSize {
				yield(interval.Interval{}, fmt.Errorf("%w: record of %d bytes", ErrDumpFormat, size))

				return
			}

			record := make([]byte, size)

			err = readFull(dr.r, record)
			if err != nil {
				yield(interval.Interval{}, err)

				return
			}

			iv, err := interval.Decode(blockio.NewReader(record))
			if err != nil {
				yield(interval.Interval{}, fmt.Errorf("%w: %w", ErrDumpFormat, err))

				return
			}

			if !yield(iv, nil) {
				return
			}
		}
	}
}

// Import rebuilds a store at path from a dump and closes it at the dumped
// tree end. The returned store is open for queries; the caller disposes it.
func Import(ctx context.Context, r io.Reader, path string, opts ...statestore.Option) (*statestore.Store, *Registry, int, error) {
	dr, err := NewDumpReader(r)
	if err != nil {
		return nil, nil, 0, err
	}

	header := dr.Header()

	store, err := statestore.Create(path, statestore.Params{
		TreeStart:       header.TreeStart,
		BlockSize:       header.BlockSize,
		MaxChildren:     header.MaxChildren,
		ProviderVersion: header.ProviderVersion,
	}, opts...)
	if err != nil {
		return nil, nil, 0, err
	}

	count := 0

	for iv, err := range dr.Intervals() {
		if err == nil {
			err = store.Insert(ctx, iv.Attribute, iv.Start, iv.End, iv.Value)
		}

		if err != nil {
			return nil, nil, 0, errors.Join(err, store.Dispose())
		}

		count++
	}

	err = store.Close(ctx, header.TreeEnd)
	if err != nil {
		return nil, nil, 0, errors.Join(err, store.Dispose())
	}

	return store, dr.Registry(), count, nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stream", ErrDumpFormat)
	}

	return fmt.Errorf("%w: %w", ErrDumpFormat, err)
}
