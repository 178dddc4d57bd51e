package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on a local directory. Writers to
// disjoint byte ranges of the same file need no coordination, so there is
// no storage-wide lock; every call opens and releases its own handle.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
	}, nil
}

func (ls *LocalStorage) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(ls.basePath, clean), nil
}

// Allocate creates a sparse file of the given size unless it already exists
func (ls *LocalStorage) Allocate(ctx context.Context, path string, size int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to create staging file")
		return false, fmt.Errorf("failed to create file: %w", err)
	}

	if err := file.Truncate(size); err != nil {
		file.Close()
		os.Remove(fullPath)
		log.Error().Err(err).Str("path", path).Int64("size", size).Msg("failed to preallocate staging file")
		return false, fmt.Errorf("failed to preallocate file: %w", err)
	}

	if err := file.Close(); err != nil {
		return false, fmt.Errorf("failed to close file: %w", err)
	}

	log.Debug().
		Str("path", path).
		Str("size", units.BytesSize(float64(size))).
		Msg("staging file allocated")
	return true, nil
}

// WriteAt writes content at offset and flushes it to disk before returning
func (ls *LocalStorage) WriteAt(ctx context.Context, path string, offset int64, content []byte) (err error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
	}()

	if _, err := file.WriteAt(content, offset); err != nil {
		log.Error().Err(err).Str("path", path).Int64("offset", offset).Msg("failed to write chunk")
		return fmt.Errorf("failed to write at offset %d: %w", offset, err)
	}

	if err := file.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync file")
		return fmt.Errorf("failed to sync file: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int64("offset", offset).
		Int("bytes_written", len(content)).
		Dur("duration", time.Since(startTime)).
		Msg("chunk written")

	return nil
}

type localObject struct {
	*os.File
	size int64
}

func (o *localObject) Size() int64 { return o.size }

// Open opens a file for reading
func (ls *LocalStorage) Open(ctx context.Context, path string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", path).Msg("file not found")
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &localObject{File: file, size: info.Size()}, nil
}

// Rename moves a file within the storage root
func (ls *LocalStorage) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fromPath, err := ls.resolve(from)
	if err != nil {
		return err
	}
	toPath, err := ls.resolve(to)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(toPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.Rename(fromPath, toPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, from)
		}
		log.Error().Err(err).Str("from", from).Str("to", to).Msg("failed to rename file")
		return fmt.Errorf("failed to rename file: %w", err)
	}

	log.Info().Str("from", from).Str("to", to).Msg("file moved")
	return nil
}

// Delete removes content from the local filesystem
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", path).Msg("file already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Info().Str("path", path).Msg("file deleted")
	return nil
}

// GetSize returns the size of content in the local filesystem
func (ls *LocalStorage) GetSize(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	return info.Size(), nil
}

// List returns the regular files in the storage root whose name starts with prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(ls.basePath)
	if err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to list files")
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		files = append(files, FileInfo{
			Path:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	log.Debug().
		Str("prefix", prefix).
		Int("count", len(files)).
		Dur("duration", time.Since(startTime)).
		Msg("files listed successfully")

	return files, nil
}
