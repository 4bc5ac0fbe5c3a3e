package filestore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
)

// File format identification.
const (
	// Magic distinguishes history tree files from anything else.
	Magic uint32 = 0x05FFA900

	// FormatVersion is the only on-disk layout version this package reads.
	FormatVersion uint32 = 1

	// HeaderSize is the fixed size of the header region preceding node block 0.
	HeaderSize = 4096
)

// Header field offsets.
const (
	offMagic           = 0
	offFormatVersion   = 4
	offProviderVersion = 8
	offStoreID         = 48
	offHeaderChecksum  = 64
	headerFieldsEnd    = 72
)

// Sentinel errors.
var (
	// ErrFormat marks files that are not history trees of the expected
	// version. The file must be discarded and rebuilt.
	ErrFormat = errors.New("unsupported history tree file format")

	// ErrCorrupt marks a header or block whose contents violate their own
	// declared bounds. It is handled like ErrFormat.
	ErrCorrupt = errors.New("corrupt history tree file")
)

// Header is the persisted description of a tree.
type Header struct {
	StoreID         uuid.UUID
	TreeStart       int64
	TreeEnd         int64
	BlockSize       int
	MaxChildren     int
	NodeCount       int
	FormatVersion   uint32
	ProviderVersion uint32
	RootSequence    int32
	Closed          bool
}

// NodeConfig returns the node geometry described by the header.
func (h Header) NodeConfig() htnode.Config {
	return htnode.Config{BlockSize: h.BlockSize, MaxChildren: h.MaxChildren}
}

// Encode writes the header into a HeaderSize buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	w := blockio.NewWriter(buf)

	w.PutUint32(Magic)
	w.PutUint32(h.FormatVersion)
	w.PutUint32(h.ProviderVersion)
	w.PutUint32(safeconv.MustIntToUint32(h.BlockSize))
	w.PutUint32(safeconv.MustIntToUint32(h.MaxChildren))
	w.PutUint32(safeconv.MustIntToUint32(h.NodeCount))
	w.PutInt32(h.RootSequence)
	w.PutInt64(h.TreeStart)
	w.PutInt64(h.TreeEnd)

	if h.Closed {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}

	w.Seek(offStoreID)
	w.PutBytes(h.StoreID[:])
	w.PutUint64(0)

	blockio.StampChecksum(buf[:headerFieldsEnd], offHeaderChecksum)

	return buf
}

// DecodeHeader parses and validates a header. Identification mismatches are
// reported as ErrFormat, inconsistent fields as ErrCorrupt.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrFormat, len(buf), HeaderSize)
	}

	r := blockio.NewReader(buf[:headerFieldsEnd])

	if magic := r.Uint32(); magic != Magic {
		return Header{}, fmt.Errorf("%w: magic %#x, want %#x", ErrFormat, magic, Magic)
	}

	h := Header{FormatVersion: r.Uint32()}
	if h.FormatVersion != FormatVersion {
		return Header{}, fmt.Errorf("%w: format version %d, want %d", ErrFormat, h.FormatVersion, FormatVersion)
	}

	err := blockio.VerifyChecksum(buf[:headerFieldsEnd], offHeaderChecksum)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	h.ProviderVersion = r.Uint32()
	blockSize := r.Uint32()
	maxChildren := r.Uint32()
	nodeCount := r.Uint32()
	h.RootSequence = r.Int32()
	h.TreeStart = r.Int64()
	h.TreeEnd = r.Int64()
	h.Closed = r.Uint8() == 1

	r.Seek(offStoreID)
	copy(h.StoreID[:], r.Bytes(len(h.StoreID)))

	if r.Err() != nil {
		return Header{}, fmt.Errorf("%w: header: %w", ErrCorrupt, r.Err())
	}

	h.BlockSize, err = safeconv.Uint32ToInt(blockSize)
	if err != nil {
		return Header{}, fmt.Errorf("%w: block size: %w", ErrCorrupt, err)
	}

	h.MaxChildren, err = safeconv.Uint32ToInt(maxChildren)
	if err != nil {
		return Header{}, fmt.Errorf("%w: max children: %w", ErrCorrupt, err)
	}

	h.NodeCount, err = safeconv.Uint32ToInt(nodeCount)
	if err != nil {
		return Header{}, fmt.Errorf("%w: node count: %w", ErrCorrupt, err)
	}

	err = h.validate()
	if err != nil {
		return Header{}, err
	}

	return h, nil
}

func (h Header) validate() error {
	err := h.NodeConfig().Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if h.NodeCount > 0 && (h.RootSequence < 0 || int(h.RootSequence) >= h.NodeCount) {
		return fmt.Errorf("%w: root sequence %d outside %d nodes", ErrCorrupt, h.RootSequence, h.NodeCount)
	}

	if h.TreeEnd < h.TreeStart {
		return fmt.Errorf("%w: tree end %d before start %d", ErrCorrupt, h.TreeEnd, h.TreeStart)
	}

	return nil
}
