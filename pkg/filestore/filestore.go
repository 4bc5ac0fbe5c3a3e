// Package filestore keeps a history tree in a single random-access file: a
// fixed-size header followed by a contiguous array of fixed-size node blocks.
// Block i lives at HeaderSize + i*BlockSize.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// filePerm is the permission of newly created tree files.
const filePerm = 0o644

// ErrReadOnly is returned when writing to a file opened for queries only.
var ErrReadOnly = errors.New("tree file is read-only")

// File is an open tree file. Reads and writes use positioned I/O, so
// concurrent ReadNode calls need no extra locking.
type File struct {
	file     *os.File
	path     string
	header   Header
	writable bool
}

// Create truncates or creates path and writes an initial header.
func Create(path string, header Header) (*File, error) {
	err := header.validate()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create tree file: %w", err)
	}

	fs := &File{file: file, path: path, header: header, writable: true}

	err = fs.WriteHeader(header)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}

	return fs, nil
}

// Open opens an existing tree file read-only and validates its header.
func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tree file: %w", err)
	}

	buf := make([]byte, HeaderSize)

	_, err = io.ReadFull(io.NewSectionReader(file, 0, HeaderSize), buf)
	if err != nil {
		closeErr := file.Close()

		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.Join(fmt.Errorf("%w: file shorter than header", ErrFormat), closeErr)
		}

		return nil, errors.Join(fmt.Errorf("read header: %w", err), closeErr)
	}

	header, err := DecodeHeader(buf)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}

	return &File{file: file, path: path, header: header}, nil
}

// Header returns the header as last read or written.
func (f *File) Header() Header { return f.header }

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Writable reports whether the file was created by this process.
func (f *File) Writable() bool { return f.writable }

// nodeOffset returns the file offset of block seq.
func (f *File) nodeOffset(seq int32) int64 {
	return HeaderSize + int64(seq)*int64(f.header.BlockSize)
}

// ReadNode reads block seq. A block past the end of the file is reported
// as ErrCorrupt wrapping io.ErrUnexpectedEOF.
func (f *File) ReadNode(seq int32) ([]byte, error) {
	if seq < 0 {
		return nil, fmt.Errorf("%w: negative node sequence %d", ErrCorrupt, seq)
	}

	block := make([]byte, f.header.BlockSize)

	n, err := f.file.ReadAt(block, f.nodeOffset(seq))
	if err != nil && (n < len(block) || !errors.Is(err, io.EOF)) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: node %d: %w (read %d of %d bytes)", ErrCorrupt, seq, io.ErrUnexpectedEOF, n, len(block))
		}

		return nil, fmt.Errorf("read node %d: %w", seq, err)
	}

	return block, nil
}

// WriteNode writes block seq in place. The block must be exactly BlockSize bytes.
func (f *File) WriteNode(seq int32, block []byte) error {
	if !f.writable {
		return ErrReadOnly
	}

	if len(block) != f.header.BlockSize {
		panic(fmt.Sprintf("filestore: node %d block is %d bytes, want %d", seq, len(block), f.header.BlockSize))
	}

	_, err := f.file.WriteAt(block, f.nodeOffset(seq))
	if err != nil {
		return fmt.Errorf("write node %d: %w", seq, err)
	}

	return nil
}

// WriteHeader persists header at offset 0.
func (f *File) WriteHeader(header Header) error {
	if !f.writable {
		return ErrReadOnly
	}

	_, err := f.file.WriteAt(header.Encode(), 0)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	f.header = header

	return nil
}

// Sync flushes written blocks to stable storage.
func (f *File) Sync() error {
	err := f.file.Sync()
	if err != nil {
		return fmt.Errorf("sync tree file: %w", err)
	}

	return nil
}

// Size returns the current file size in bytes.
func (f *File) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat tree file: %w", err)
	}

	return info.Size(), nil
}

// Close releases the file handle.
func (f *File) Close() error {
	err := f.file.Close()
	if err != nil {
		return fmt.Errorf("close tree file: %w", err)
	}

	return nil
}
