package htnode

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/histree/pkg/blockio"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/safeconv"
)

// Block layout offsets.
const (
	offKind          = 0
	offSealed        = 1
	offSequence      = 4
	offParent        = 8
	offStart         = 12
	offEnd           = 20
	offIntervalCount = 28
	offIntervalBytes = 32
	offChecksum      = 36

	commonHeaderSize = 44

	childCountSize = blockio.SizeUint32
	childEntrySize = blockio.SizeInt32 + blockio.SizeInt64 + blockio.SizeInt64
)

// ErrCorruptNode is returned when a block violates the node format or its
// own declared bounds.
var ErrCorruptNode = errors.New("corrupt node block")

// Serialize encodes the node into a fresh block of exactly BlockSize bytes.
func (n *Node) Serialize() []byte {
	block := make([]byte, n.cfg.BlockSize)
	n.SerializeInto(block)

	return block
}

// SerializeInto encodes the node into block, which must be BlockSize long.
func (n *Node) SerializeInto(block []byte) {
	if len(block) != n.cfg.BlockSize {
		panic(fmt.Sprintf("htnode: serialize into %d bytes, block size is %d", len(block), n.cfg.BlockSize))
	}

	clear(block)

	w := blockio.NewWriter(block)

	w.PutUint8(uint8(n.kind))

	if n.sealed {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}

	w.PutUint16(0)
	w.PutInt32(n.sequence)
	w.PutInt32(n.parent)
	w.PutInt64(n.start)
	w.PutInt64(n.end)
	w.PutUint32(safeconv.MustIntToUint32(len(n.intervals)))
	w.PutUint32(safeconv.MustIntToUint32(n.intervalBytes))
	w.PutUint64(0)

	if n.kind == KindCore {
		w.PutUint32(safeconv.MustIntToUint32(len(n.children)))

		for _, child := range n.children {
			w.PutInt32(child.Sequence)
			w.PutInt64(child.Start)
			w.PutInt64(child.End)
		}

		w.Seek(n.cfg.HeaderSize(KindCore))
	}

	for _, iv := range n.intervals {
		iv.Encode(w)
	}

	w.Zero()
	blockio.StampChecksum(block, offChecksum)
}

// Deserialize decodes a block written by Serialize. Every decoded count and
// size is checked against the node's own declared bounds.
func Deserialize(cfg Config, block []byte) (*Node, error) {
	if len(block) != cfg.BlockSize {
		return nil, fmt.Errorf("%w: block is %d bytes, want %d", ErrCorruptNode, len(block), cfg.BlockSize)
	}

	err := blockio.VerifyChecksum(block, offChecksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptNode, err)
	}

	r := blockio.NewReader(block)

	n := &Node{cfg: cfg, kind: Kind(r.Uint8())}
	n.sealed = r.Uint8() == 1
	r.Uint16()
	n.sequence = r.Int32()
	n.parent = r.Int32()
	n.start = r.Int64()
	n.end = r.Int64()
	count := r.Uint32()
	size := r.Uint32()

	err = n.validateHeader(count, size)
	if err != nil {
		return nil, err
	}

	r.Seek(commonHeaderSize)

	if n.kind == KindCore {
		err = n.decodeChildren(r)
		if err != nil {
			return nil, err
		}
	}

	err = n.decodeIntervals(block, int(count), int(size))
	if err != nil {
		return nil, err
	}

	return n, nil
}

func (n *Node) validateHeader(count, size uint32) error {
	if n.kind != KindLeaf && n.kind != KindCore {
		return fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, uint8(n.kind))
	}

	if n.sequence < 0 || n.parent < NoParent || n.parent == n.sequence {
		return fmt.Errorf("%w: sequence %d, parent %d", ErrCorruptNode, n.sequence, n.parent)
	}

	if n.end < n.start {
		return fmt.Errorf("%w: node %d ends at %d before its start %d", ErrCorruptNode, n.sequence, n.end, n.start)
	}

	capacity := n.cfg.IntervalCapacity(n.kind)

	bytes, err := safeconv.Uint32ToInt(size)
	if err != nil || bytes > capacity {
		return fmt.Errorf("%w: node %d declares %d interval bytes, capacity %d", ErrCorruptNode, n.sequence, size, capacity)
	}

	if uint64(count)*interval.FixedSize > uint64(bytes) {
		return fmt.Errorf("%w: node %d declares %d intervals in %d bytes", ErrCorruptNode, n.sequence, count, size)
	}

	return nil
}

func (n *Node) decodeChildren(r *blockio.Reader) error {
	count := r.Uint32()
	if uint64(count) > uint64(n.cfg.MaxChildren) {
		return fmt.Errorf("%w: node %d declares %d children, max %d", ErrCorruptNode, n.sequence, count, n.cfg.MaxChildren)
	}

	n.children = make([]Child, 0, n.cfg.MaxChildren)

	for i := range int(count) {
		child := Child{Sequence: r.Int32(), Start: r.Int64(), End: r.Int64()}

		switch {
		case child.Sequence < 0 || child.Sequence == n.sequence:
			return fmt.Errorf("%w: node %d has child sequence %d", ErrCorruptNode, n.sequence, child.Sequence)
		case child.Start < n.start:
			return fmt.Errorf("%w: child %d of node %d starts before its parent", ErrCorruptNode, child.Sequence, n.sequence)
		case i > 0 && child.Start < n.children[i-1].Start:
			return fmt.Errorf("%w: children of node %d are out of order", ErrCorruptNode, n.sequence)
		case child.End != OpenEnd && child.End < child.Start:
			return fmt.Errorf("%w: child %d of node %d ends before it starts", ErrCorruptNode, child.Sequence, n.sequence)
		}

		n.children = append(n.children, child)
	}

	if r.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCorruptNode, r.Err())
	}

	return nil
}

func (n *Node) decodeIntervals(block []byte, count, size int) error {
	offset := n.cfg.HeaderSize(n.kind)
	r := blockio.NewReader(block[offset : offset+size])

	n.intervals = make([]interval.Interval, 0, count)

	for range count {
		iv, err := interval.Decode(r)
		if err != nil {
			return fmt.Errorf("%w: node %d: %w", ErrCorruptNode, n.sequence, err)
		}

		n.intervals = append(n.intervals, iv)
	}

	if r.Remaining() != 0 {
		return fmt.Errorf("%w: node %d has %d trailing interval bytes", ErrCorruptNode, n.sequence, r.Remaining())
	}

	n.intervalBytes = size

	return nil
}
