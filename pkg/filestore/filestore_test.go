package filestore_test

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/filestore"
)

const (
	testBlockSize   = 256
	testMaxChildren = 4
)

func testHeader() filestore.Header {
	return filestore.Header{
		StoreID:         uuid.New(),
		FormatVersion:   filestore.FormatVersion,
		ProviderVersion: 3,
		BlockSize:       testBlockSize,
		MaxChildren:     testMaxChildren,
		TreeStart:       10,
		TreeEnd:         10,
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	h := testHeader()
	h.NodeCount = 5
	h.RootSequence = 4
	h.TreeEnd = 99
	h.Closed = true

	buf := h.Encode()
	require.Len(t, buf, filestore.HeaderSize)

	got, err := filestore.DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(buf []byte)
		wantErr error
	}{
		{"bad magic", func(buf []byte) { binary.LittleEndian.PutUint32(buf[0:], 0xdeadbeef) }, filestore.ErrFormat},
		{"future version", func(buf []byte) { binary.LittleEndian.PutUint32(buf[4:], 2) }, filestore.ErrFormat},
		{"flipped field", func(buf []byte) { buf[30] ^= 0xff }, filestore.ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := testHeader().Encode()
			tt.mutate(buf)

			_, err := filestore.DecodeHeader(buf)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeHeader_Short(t *testing.T) {
	t.Parallel()

	_, err := filestore.DecodeHeader(make([]byte, 12))
	require.ErrorIs(t, err, filestore.ErrFormat)
}

func TestCreate_InvalidGeometry(t *testing.T) {
	t.Parallel()

	h := testHeader()
	h.BlockSize = 16

	_, err := filestore.Create(filepath.Join(t.TempDir(), "tree.ht"), h)
	require.ErrorIs(t, err, filestore.ErrCorrupt)
}

func TestFile_WriteReadNodes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tree.ht")

	f, err := filestore.Create(path, testHeader())
	require.NoError(t, err)

	blocks := make([][]byte, 3)
	for i := range blocks {
		blocks[i] = make([]byte, testBlockSize)
		blocks[i][0] = byte(i + 1)
		blocks[i][testBlockSize-1] = byte(i + 100)

		require.NoError(t, f.WriteNode(int32(i), blocks[i]))
	}

	// The open node may be rewritten in place.
	blocks[2][1] = 0x42
	require.NoError(t, f.WriteNode(2, blocks[2]))

	h := f.Header()
	h.NodeCount = 3
	h.Closed = true
	require.NoError(t, f.WriteHeader(h))

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(filestore.HeaderSize+3*testBlockSize), size)
	require.NoError(t, f.Close())

	ro, err := filestore.Open(path)
	require.NoError(t, err)

	defer ro.Close()

	assert.Equal(t, 3, ro.Header().NodeCount)
	assert.False(t, ro.Writable())

	for i := range blocks {
		got, readErr := ro.ReadNode(int32(i))
		require.NoError(t, readErr)
		assert.Equal(t, blocks[i], got)
	}

	_, err = ro.ReadNode(3)
	require.ErrorIs(t, err, filestore.ErrCorrupt)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	require.ErrorIs(t, ro.WriteNode(0, blocks[0]), filestore.ErrReadOnly)
}

func TestFile_WrongBlockLengthPanics(t *testing.T) {
	t.Parallel()

	f, err := filestore.Create(filepath.Join(t.TempDir(), "tree.ht"), testHeader())
	require.NoError(t, err)

	defer f.Close()

	assert.Panics(t, func() {
		_ = f.WriteNode(0, make([]byte, testBlockSize+1))
	})
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()

	_, err := filestore.Open(filepath.Join(t.TempDir(), "absent.ht"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpen_NotATree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	short := filepath.Join(dir, "short.ht")
	require.NoError(t, os.WriteFile(short, []byte("hello"), 0o600))

	_, err := filestore.Open(short)
	require.ErrorIs(t, err, filestore.ErrFormat)

	garbage := filepath.Join(dir, "garbage.ht")
	require.NoError(t, os.WriteFile(garbage, make([]byte, filestore.HeaderSize), 0o600))

	_, err = filestore.Open(garbage)
	require.ErrorIs(t, err, filestore.ErrFormat)
}
