package client

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lgulliver/stowaway/pkg/utils"
)

// ChunkSource yields the bytes of chunk index. Implementations must be
// safe for concurrent use.
type ChunkSource interface {
	ReadChunk(index int) ([]byte, error)
	Size() int64
}

// FileSource reads chunks from a file with positional reads, so
// concurrent workers need no shared seek offset.
type FileSource struct {
	file      *os.File
	size      int64
	chunkSize int64
}

// OpenFileSource opens path for chunked reading
func OpenFileSource(path string, chunkSize int64) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{file: file, size: info.Size(), chunkSize: chunkSize}, nil
}

// Size returns the file size at open time
func (f *FileSource) Size() int64 {
	return f.size
}

// Info returns the file metadata
func (f *FileSource) Info() (os.FileInfo, error) {
	return f.file.Stat()
}

// ReadChunk reads the byte range of chunk index
func (f *FileSource) ReadChunk(index int) ([]byte, error) {
	start, end := utils.ChunkBounds(index, f.chunkSize, f.size)
	if index < 0 || start >= end {
		return nil, fmt.Errorf("chunk %d is outside the file", index)
	}

	buf := make([]byte, end-start)
	n, err := f.file.ReadAt(buf, start)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return buf, nil
}

// Close closes the underlying file
func (f *FileSource) Close() error {
	return f.file.Close()
}

// BytesSource serves chunks from memory
type BytesSource struct {
	data      []byte
	chunkSize int64
}

// NewBytesSource creates a ChunkSource over data
func NewBytesSource(data []byte, chunkSize int64) *BytesSource {
	return &BytesSource{data: data, chunkSize: chunkSize}
}

// Size returns len(data)
func (b *BytesSource) Size() int64 {
	return int64(len(b.data))
}

// ReadChunk returns the slice of chunk index
func (b *BytesSource) ReadChunk(index int) ([]byte, error) {
	start, end := utils.ChunkBounds(index, b.chunkSize, b.Size())
	if index < 0 || start >= end {
		return nil, fmt.Errorf("chunk %d is outside the data", index)
	}
	return b.data[start:end], nil
}
