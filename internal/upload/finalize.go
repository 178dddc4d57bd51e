package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Finalize seals a fully uploaded session: it hashes the staging file,
// lists the leading container entries and moves the file to its final
// name. Finalizing a COMPLETE session returns the stored result without
// touching storage. A session with missing chunks is rejected with
// ErrIncompleteUpload and stays UPLOADING.
func (s *Service) Finalize(ctx context.Context, uploadID string) (*types.FinalizeResult, error) {
	if result, ok := s.results.Get(ctx, uploadID); ok {
		return result, nil
	}

	sess, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case types.StatusComplete:
		return s.completed(ctx, sess), nil
	case types.StatusUploading:
	default:
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrInvalidState, uploadID, sess.Status)
	}

	if err := s.checkComplete(ctx, sess); err != nil {
		return nil, err
	}

	sealed, err := s.sessions.TransitionToSealing(ctx, uploadID)
	if err != nil {
		// a concurrent finalizer may have finished between Get and here
		if errors.Is(err, types.ErrInvalidState) && sealed != nil && sealed.Status == types.StatusComplete {
			return s.completed(ctx, sealed), nil
		}
		return nil, err
	}

	// Sealing is one-way; a disconnecting caller must not abandon it halfway.
	sealCtx := context.WithoutCancel(ctx)

	result, err := s.seal(sealCtx, sealed)
	if err != nil {
		log.Error().Err(err).Str("session_id", uploadID).Msg("finalization failed")
		if _, markErr := s.sessions.MarkFailed(sealCtx, uploadID); markErr != nil {
			log.Error().Err(markErr).Str("session_id", uploadID).Msg("failed to mark session failed")
		}
		return nil, fmt.Errorf("%w: %v", types.ErrFinalization, err)
	}

	s.results.Set(sealCtx, uploadID, result)
	return result, nil
}

// checkComplete fails with ErrIncompleteUpload unless every index in
// [0, totalChunks) has a stored record
func (s *Service) checkComplete(ctx context.Context, sess *types.UploadSession) error {
	indices, err := s.sessions.ListStoredIndices(ctx, sess.SessionID)
	if err != nil {
		return err
	}

	next := 0
	var missing []int
	for _, index := range indices {
		for ; next < index && next < sess.TotalChunks; next++ {
			missing = append(missing, next)
		}
		if index == next {
			next++
		}
	}
	for ; next < sess.TotalChunks; next++ {
		missing = append(missing, next)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %d of %d chunks missing (first missing index %d)",
			types.ErrIncompleteUpload, len(missing), sess.TotalChunks, missing[0])
	}
	return nil
}

func (s *Service) seal(ctx context.Context, sess *types.UploadSession) (*types.FinalizeResult, error) {
	startTime := time.Now()

	obj, err := s.storage.Open(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging file: %w", err)
	}

	hasher := sha256.New()
	n, err := io.Copy(hasher, io.NewSectionReader(obj, 0, obj.Size()))
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to hash staging file: %w", err)
	}
	if n != sess.FileSizeBytes {
		obj.Close()
		return nil, fmt.Errorf("staging file has %d bytes, expected %d", n, sess.FileSizeBytes)
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	entries := s.inspectors.Inspect(ctx, sess.FileName, obj, obj.Size(), s.inspectLimit)

	if err := obj.Close(); err != nil {
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	finalPath := utils.FinalName(sess.FileName, hash)
	if err := s.storage.Rename(ctx, sess.SessionID, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move staging file: %w", err)
	}

	if _, err := s.sessions.MarkComplete(ctx, sess.SessionID, hash, finalPath, entries); err != nil {
		// the janitor never removes final artifacts, so these bytes stay
		// until an operator recovers or deletes them
		log.Error().
			Err(err).
			Str("session_id", sess.SessionID).
			Str("hash", hash).
			Str("final_path", finalPath).
			Msg("artifact sealed but completion not recorded")
		return nil, fmt.Errorf("failed to record completion (artifact at %s): %w", finalPath, err)
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Str("hash", hash).
		Str("final_path", finalPath).
		Str("size", units.BytesSize(float64(n))).
		Int("entries", len(entries)).
		Dur("duration", time.Since(startTime)).
		Msg("upload finalized")

	return &types.FinalizeResult{
		Status:  types.StatusComplete,
		Hash:    hash,
		Entries: entries,
	}, nil
}

func (s *Service) completed(ctx context.Context, sess *types.UploadSession) *types.FinalizeResult {
	entries := sess.Entries
	if entries == nil {
		entries = []string{}
	}
	result := &types.FinalizeResult{
		Status:  types.StatusComplete,
		Hash:    sess.FinalHash,
		Entries: entries,
	}
	s.results.Set(ctx, sess.SessionID, result)
	return result
}
