package upload

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Ingest writes one chunk at its fixed offset in the staging file and then
// records it as stored. A failed write leaves no record behind, so the
// call is safe to retry. A non-empty checksum must match the BLAKE3 digest
// of data.
func (s *Service) Ingest(ctx context.Context, uploadID string, index int, data []byte, checksum string) error {
	sess, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		return err
	}

	if sess.Status != types.StatusUploading {
		return fmt.Errorf("%w: session %s is %s", types.ErrInvalidState, uploadID, sess.Status)
	}

	if index < 0 || index >= sess.TotalChunks {
		return fmt.Errorf("%w: chunk index %d outside [0, %d)", types.ErrInvalidArgument, index, sess.TotalChunks)
	}

	expected := utils.ExpectedChunkLength(index, s.chunkSize, sess.FileSizeBytes)
	if int64(len(data)) != expected {
		return fmt.Errorf("%w: chunk %d has %d bytes, expected %d",
			types.ErrInvalidArgument, index, len(data), expected)
	}

	sum := utils.ChunkChecksum(data)
	if checksum != "" && !strings.EqualFold(checksum, sum) {
		return fmt.Errorf("%w: checksum mismatch for chunk %d", types.ErrInvalidArgument, index)
	}

	offset := int64(index) * s.chunkSize
	if err := s.storage.WriteAt(ctx, sess.SessionID, offset, data); err != nil {
		log.Error().
			Err(err).
			Str("session_id", uploadID).
			Int("index", index).
			Msg("failed to write chunk")
		return fmt.Errorf("%w: chunk %d: %v", types.ErrDiskWrite, index, err)
	}

	if err := s.chunks.RecordStored(ctx, sess.SessionID, index, expected, sum); err != nil {
		return err
	}

	log.Debug().
		Str("session_id", uploadID).
		Int("index", index).
		Int("bytes", len(data)).
		Msg("chunk stored")

	return nil
}

// ReadChunkBody reads a request body of at most limit decoded bytes.
// encoding is the Content-Encoding header: empty, "identity" or "zstd".
func ReadChunkBody(body io.Reader, encoding string, limit int64) ([]byte, error) {
	var src io.Reader = body

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "zstd":
		// frames declare at least a 1 KiB window whatever their content size
		maxMemory := uint64(limit) + 1
		if maxMemory < 1<<20 {
			maxMemory = 1 << 20
		}
		dec, err := zstd.NewReader(body,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxMemory))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
		}
		defer dec.Close()
		src = dec
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", types.ErrInvalidArgument, encoding)
	}

	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read chunk body: %w", types.ErrInvalidArgument, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: chunk body exceeds %d bytes", types.ErrInvalidArgument, limit)
	}
	return data, nil
}
