package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned when the addressed file is missing
var ErrNotExist = errors.New("file does not exist")

// Object is an open, readable staging or final file
type Object interface {
	io.Reader
	io.ReaderAt
	io.Closer

	// Size returns the length of the file when it was opened
	Size() int64
}

// FileInfo describes a stored file
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// BlobStorage defines the interface for staging and final artifact storage.
// Paths are relative to the storage root.
type BlobStorage interface {
	// Allocate creates a file of exactly size bytes if it does not exist yet
	// and reports whether it did. Existing files are left untouched.
	Allocate(ctx context.Context, path string, size int64) (bool, error)

	// WriteAt writes content at offset of an existing file and syncs it
	WriteAt(ctx context.Context, path string, offset int64, content []byte) error

	// Open opens a file for reading
	Open(ctx context.Context, path string) (Object, error)

	// Rename moves a file to a new path, replacing any file already there
	Rename(ctx context.Context, from, to string) error

	// Delete removes content at the given path
	Delete(ctx context.Context, path string) error

	// GetSize returns the size of content at the given path, or an error
	// wrapping ErrNotExist if there is none
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns files whose name starts with prefix
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}
