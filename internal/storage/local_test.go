package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	tests := []struct {
		name        string
		basePath    string
		shouldError bool
	}{
		{
			name:        "valid path",
			basePath:    t.TempDir(),
			shouldError: false,
		},
		{
			name:        "non-existent path",
			basePath:    filepath.Join(t.TempDir(), "nested", "path"),
			shouldError: false,
		},
		{
			name:        "invalid path (file instead of directory)",
			basePath:    createTempFile(t),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewLocalStorage(tt.basePath)

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, storage)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, storage)
				assert.Equal(t, tt.basePath, storage.basePath)

				info, err := os.Stat(tt.basePath)
				assert.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestLocalStorage_Allocate(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	created, err := storage.Allocate(ctx, "session-a", 12345)
	require.NoError(t, err)
	assert.True(t, created)

	size, err := storage.GetSize(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)

	// second allocate must not truncate existing content
	require.NoError(t, storage.WriteAt(ctx, "session-a", 0, []byte("keep")))
	created, err = storage.Allocate(ctx, "session-a", 10)
	require.NoError(t, err)
	assert.False(t, created)

	size, err = storage.GetSize(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)

	obj, err := storage.Open(ctx, "session-a")
	require.NoError(t, err)
	defer obj.Close()
	head := make([]byte, 4)
	_, err = obj.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(head))
}

func TestLocalStorage_WriteAt(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "staging", 12)

	tests := []struct {
		name    string
		offset  int64
		content string
	}{
		{name: "last range first", offset: 8, content: "IJKL"},
		{name: "first range", offset: 0, content: "ABCD"},
		{name: "middle range", offset: 4, content: "EFGH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, storage.WriteAt(ctx, "staging", tt.offset, []byte(tt.content)))
		})
	}

	obj, err := storage.Open(ctx, "staging")
	require.NoError(t, err)
	defer obj.Close()

	content, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJKL", string(content))
	assert.Equal(t, int64(12), obj.Size())
}

func TestLocalStorage_WriteAtMissingFile(t *testing.T) {
	storage := setupTestStorage(t)

	err := storage.WriteAt(context.Background(), "missing", 0, []byte("data"))
	assert.ErrorIs(t, err, ErrNotExist)

	assert.False(t, fileExists(t, storage, "missing"), "WriteAt must not create files")
}

func TestLocalStorage_Open(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "present", 3)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{name: "existing file", path: "present", shouldError: false},
		{name: "non-existent file", path: "absent", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := storage.Open(ctx, tt.path)

			if tt.shouldError {
				assert.ErrorIs(t, err, ErrNotExist)
				assert.Nil(t, obj)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(3), obj.Size())
				obj.Close()
			}
		})
	}
}

func TestLocalStorage_Rename(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "staging", 4)
	require.NoError(t, storage.WriteAt(ctx, "staging", 0, []byte("data")))

	require.NoError(t, storage.Rename(ctx, "staging", "final-data.bin"))

	assert.False(t, fileExists(t, storage, "staging"))
	assert.True(t, fileExists(t, storage, "final-data.bin"))

	err := storage.Rename(ctx, "staging", "final-other.bin")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalStorage_PathsStayInsideRoot(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "../../escape", 1)

	_, err := os.Stat(filepath.Join(storage.basePath, "escape"))
	assert.NoError(t, err, "traversal must be clamped to the storage root")

	_, err = storage.Allocate(ctx, "", 1)
	assert.Error(t, err)
}

func TestLocalStorage_Delete(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "doomed", 1)
	assert.NoError(t, storage.Delete(ctx, "doomed"))

	assert.False(t, fileExists(t, storage, "doomed"))

	// deleting again is not an error
	assert.NoError(t, storage.Delete(ctx, "doomed"))
}

func TestLocalStorage_GetSize(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	allocate(t, storage, "sized", 42)

	size, err := storage.GetSize(ctx, "sized")
	require.NoError(t, err)
	assert.Equal(t, int64(42), size)

	_, err = storage.GetSize(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalStorage_List(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"final-a.zip", "final-b.zip", "session-1", "session-2"} {
		allocate(t, storage, name, 1)
	}
	require.NoError(t, os.Mkdir(filepath.Join(storage.basePath, "final-dir"), 0755))

	all, err := storage.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	finals, err := storage.List(ctx, "final-")
	require.NoError(t, err)
	var names []string
	for _, f := range finals {
		names = append(names, f.Path)
		assert.WithinDuration(t, time.Now(), f.ModTime, time.Minute)
	}
	assert.ElementsMatch(t, []string{"final-a.zip", "final-b.zip"}, names)
}

func TestLocalStorage_ConcurrentDisjointWrites(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const numChunks = 16
	const chunkSize = 4096
	allocate(t, storage, "parallel", numChunks*chunkSize)

	expected := make([]byte, numChunks*chunkSize)
	var wg sync.WaitGroup
	wg.Add(numChunks)

	for i := 0; i < numChunks; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, chunkSize)
		copy(expected[i*chunkSize:], chunk)

		go func(index int, data []byte) {
			defer wg.Done()
			assert.NoError(t, storage.WriteAt(ctx, "parallel", int64(index*chunkSize), data))
		}(i, chunk)
	}

	wg.Wait()

	obj, err := storage.Open(ctx, "parallel")
	require.NoError(t, err)
	defer obj.Close()

	content, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(expected), sha256.Sum256(content))
}

func TestLocalStorage_ContextCancellation(t *testing.T) {
	storage := setupTestStorage(t)
	allocate(t, storage, "file", 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		op   func() error
	}{
		{name: "allocate", op: func() error { _, err := storage.Allocate(ctx, "other", 1); return err }},
		{name: "write", op: func() error { return storage.WriteAt(ctx, "file", 0, []byte("x")) }},
		{name: "open", op: func() error { _, err := storage.Open(ctx, "file"); return err }},
		{name: "rename", op: func() error { return storage.Rename(ctx, "file", "moved") }},
		{name: "list", op: func() error { _, err := storage.List(ctx, ""); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, context.Canceled, tt.op())
		})
	}
}

// Helper functions

func setupTestStorage(t *testing.T) *LocalStorage {
	tempDir := t.TempDir()
	storage, err := NewLocalStorage(tempDir)
	require.NoError(t, err)
	return storage
}

func allocate(t *testing.T, storage *LocalStorage, path string, size int64) {
	_, err := storage.Allocate(context.Background(), path, size)
	require.NoError(t, err)
}

func fileExists(t *testing.T, storage *LocalStorage, path string) bool {
	_, err := storage.GetSize(context.Background(), path)
	if errors.Is(err, ErrNotExist) {
		return false
	}
	require.NoError(t, err)
	return true
}

func createTempFile(t *testing.T) string {
	tempFile, err := os.CreateTemp(t.TempDir(), "test")
	require.NoError(t, err)
	tempFile.Close()
	return tempFile.Name()
}
