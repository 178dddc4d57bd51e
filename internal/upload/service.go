package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/lgulliver/stowaway/internal/inspect"
	"github.com/lgulliver/stowaway/internal/session"
	"github.com/lgulliver/stowaway/internal/storage"
	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the server side of the resumable upload engine: init,
// chunk ingestion, finalization and status queries.
type Service struct {
	sessions     *session.Registry
	chunks       *session.ChunkStore
	storage      storage.BlobStorage
	inspectors   *inspect.Registry
	results      ResultCache
	chunkSize    int64
	inspectLimit int
}

// Option customizes a Service
type Option func(*Service)

// WithInspectors replaces the default content inspectors
func WithInspectors(r *inspect.Registry) Option {
	return func(s *Service) { s.inspectors = r }
}

// WithResultCache caches finalize results for COMPLETE sessions
func WithResultCache(c ResultCache) Option {
	return func(s *Service) { s.results = c }
}

// NewService creates a new upload service
func NewService(db *gorm.DB, store storage.BlobStorage, cfg *config.UploadConfig, opts ...Option) *Service {
	s := &Service{
		sessions:     session.NewRegistry(db),
		chunks:       session.NewChunkStore(db),
		storage:      store,
		inspectors:   inspect.NewDefaultRegistry(),
		results:      NoopResultCache{},
		chunkSize:    cfg.ChunkSize,
		inspectLimit: cfg.InspectEntries,
	}
	if s.chunkSize <= 0 {
		s.chunkSize = config.DefaultChunkSize
	}
	if s.inspectLimit <= 0 {
		s.inspectLimit = inspect.DefaultLimit
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkSize returns the fixed chunk size of this service
func (s *Service) ChunkSize() int64 {
	return s.chunkSize
}

// Init creates the session if needed, makes sure its staging file exists
// and returns the chunk indices already stored. Repeating Init with the
// same upload id returns the existing session unchanged.
func (s *Service) Init(ctx context.Context, uploadID, fileName string, fileSize int64, totalChunks int) (*types.UploadSession, []int, error) {
	if err := utils.ValidateSessionID(uploadID); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if fileName == "" {
		return nil, nil, fmt.Errorf("%w: file name is required", types.ErrInvalidArgument)
	}
	if fileSize < 0 {
		return nil, nil, fmt.Errorf("%w: file size cannot be negative", types.ErrInvalidArgument)
	}
	if expected := utils.TotalChunks(fileSize, s.chunkSize); totalChunks != expected {
		return nil, nil, fmt.Errorf("%w: totalChunks is %d, expected %d for %d bytes",
			types.ErrInvalidArgument, totalChunks, expected, fileSize)
	}

	sess, created, err := s.sessions.CreateOrGet(ctx, uploadID, fileName, fileSize, totalChunks)
	if err != nil {
		return nil, nil, err
	}

	if !created && (sess.FileSizeBytes != fileSize || sess.FileName != fileName) {
		log.Warn().
			Str("session_id", uploadID).
			Str("file_name", fileName).
			Int64("file_size", fileSize).
			Msg("init metadata differs from existing session, keeping original")
	}

	// A retried init may follow a crash between session creation and
	// allocation, so allocate whenever chunks can still arrive.
	if sess.Status == types.StatusUploading {
		if err := s.prepareStaging(ctx, sess); err != nil {
			return nil, nil, err
		}
	}

	indices, err := s.sessions.ListStoredIndices(ctx, sess.SessionID)
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Bool("created", created).
		Int("stored_chunks", len(indices)).
		Int("total_chunks", sess.TotalChunks).
		Msg("upload initialized")

	return sess, indices, nil
}

// prepareStaging makes sure the staging file of sess exists with its
// declared size. Chunk records are only valid while their bytes are on
// disk, so whenever the file is created or replaced they are discarded
// and the client re-sends every chunk.
func (s *Service) prepareStaging(ctx context.Context, sess *types.UploadSession) error {
	created, err := s.storage.Allocate(ctx, sess.SessionID, sess.FileSizeBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDiskWrite, err)
	}

	if !created {
		size, err := s.storage.GetSize(ctx, sess.SessionID)
		switch {
		case err == nil && size == sess.FileSizeBytes:
			return nil
		case err != nil && !errors.Is(err, storage.ErrNotExist):
			return fmt.Errorf("%w: %v", types.ErrDiskWrite, err)
		}

		log.Warn().
			Str("session_id", sess.SessionID).
			Int64("size", size).
			Int64("expected", sess.FileSizeBytes).
			Msg("staging file has the wrong size, replacing it")

		if err := s.storage.Delete(ctx, sess.SessionID); err != nil {
			return fmt.Errorf("%w: %v", types.ErrDiskWrite, err)
		}
		if _, err := s.storage.Allocate(ctx, sess.SessionID, sess.FileSizeBytes); err != nil {
			return fmt.Errorf("%w: %v", types.ErrDiskWrite, err)
		}
	}

	discarded, err := s.chunks.DeleteSession(ctx, sess.SessionID)
	if err != nil {
		return err
	}
	if discarded > 0 {
		log.Warn().
			Str("session_id", sess.SessionID).
			Int64("discarded_chunks", discarded).
			Msg("staging file was recreated, stored chunks must be re-sent")
	}
	return nil
}

// Status returns the session and its stored chunk indices
func (s *Service) Status(ctx context.Context, uploadID string) (*types.UploadSession, []int, error) {
	sess, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}

	indices, err := s.sessions.ListStoredIndices(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}

	return sess, indices, nil
}
