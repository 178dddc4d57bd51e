package inspect

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ZipInspector reads the zip central directory
type ZipInspector struct{}

// Inspect lists the first limit entries of a zip archive
func (ZipInspector) Inspect(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip directory: %w", err)
	}

	names := make([]string, 0, limit)
	for _, f := range zr.File {
		if len(names) == limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names = append(names, f.Name)
	}
	return names, nil
}

// Decompressor wraps a compressed stream. The returned close function
// releases decoder resources.
type Decompressor func(io.Reader) (io.Reader, func(), error)

// TarInspector walks tar headers, optionally through a decompressor
type TarInspector struct {
	Decompress Decompressor
}

// Inspect lists the first limit entries of a tar stream
func (t TarInspector) Inspect(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]string, error) {
	var stream io.Reader = io.NewSectionReader(r, 0, size)

	if t.Decompress != nil {
		decoded, release, err := t.Decompress(stream)
		if err != nil {
			return nil, err
		}
		defer release()
		stream = decoded
	}

	tr := tar.NewReader(stream)
	names := make([]string, 0, limit)
	for len(names) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

func gzipReader(r io.Reader) (io.Reader, func(), error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return gz, func() { gz.Close() }, nil
}

func zstdReader(r io.Reader) (io.Reader, func(), error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	return dec, dec.Close, nil
}

func lz4Reader(r io.Reader) (io.Reader, func(), error) {
	return lz4.NewReader(r), func() {}, nil
}
