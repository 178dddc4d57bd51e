package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry owns upload sessions and enforces the status transition table.
// It is the only writer of the upload_sessions table.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a new session registry
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// CreateOrGet creates an UPLOADING session if none exists for sessionID and
// otherwise returns the existing one unchanged. created reports which
// happened.
func (r *Registry) CreateOrGet(ctx context.Context, sessionID, fileName string, fileSize int64, totalChunks int) (*types.UploadSession, bool, error) {
	candidate := &types.UploadSession{
		SessionID:     sessionID,
		FileName:      fileName,
		FileSizeBytes: fileSize,
		TotalChunks:   totalChunks,
		Status:        types.StatusUploading,
	}

	// Concurrent inits for the same id race on the unique index; the loser
	// inserts nothing and reads the winner's row below.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(candidate)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create upload session: %w", result.Error)
	}

	created := result.RowsAffected == 1
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	if created {
		log.Info().
			Str("session_id", sessionID).
			Str("file_name", fileName).
			Int64("file_size", fileSize).
			Int("total_chunks", totalChunks).
			Msg("upload session created")
	}

	return session, created, nil
}

// Get returns the session identified by sessionID
func (r *Registry) Get(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	var session types.UploadSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return &session, nil
}

// ListStoredIndices returns every chunk index recorded for sessionID in
// ascending order
func (r *Registry) ListStoredIndices(ctx context.Context, sessionID string) ([]int, error) {
	indices := []int{}
	err := r.db.WithContext(ctx).
		Model(&types.ChunkRecord{}).
		Where("session_id = ?", sessionID).
		Order("chunk_index ASC").
		Pluck("chunk_index", &indices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stored chunks: %w", err)
	}
	return indices, nil
}

// TransitionToSealing atomically moves a session from UPLOADING to
// SEALING. At most one caller can win this transition per session.
func (r *Registry) TransitionToSealing(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	return r.transition(ctx, sessionID, types.StatusSealing, types.StatusSealing.Predecessors(), types.UploadSession{})
}

// MarkComplete seals a SEALING session with its content hash, final
// artifact path and inspected entries
func (r *Registry) MarkComplete(ctx context.Context, sessionID, finalHash, finalPath string, entries []string) (*types.UploadSession, error) {
	if entries == nil {
		entries = []string{}
	}
	patch := types.UploadSession{
		FinalHash: finalHash,
		FinalPath: finalPath,
		Entries:   entries,
	}
	return r.transition(ctx, sessionID, types.StatusComplete, types.StatusComplete.Predecessors(), patch,
		"final_hash", "final_path", "entries")
}

// MarkFailed moves an UPLOADING or SEALING session to FAILED
func (r *Registry) MarkFailed(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	return r.transition(ctx, sessionID, types.StatusFailed, types.StatusFailed.Predecessors(), types.UploadSession{})
}

// MarkAbandoned fails a session only while it is still UPLOADING, leaving
// an in-progress seal alone
func (r *Registry) MarkAbandoned(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	return r.transition(ctx, sessionID, types.StatusFailed, []types.Status{types.StatusUploading}, types.UploadSession{})
}

// transition performs a compare-and-set on the status column: the update
// only matches rows whose current status is one of allowed, and every
// allowed status must be a legal predecessor of next.
func (r *Registry) transition(ctx context.Context, sessionID string, next types.Status, allowed []types.Status, patch types.UploadSession, columns ...string) (*types.UploadSession, error) {
	from := make([]string, 0, len(allowed))
	for _, s := range allowed {
		if !s.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s to %s is not a legal transition", types.ErrInvalidState, s, next)
		}
		from = append(from, string(s))
	}

	patch.Status = next
	patch.UpdatedAt = time.Now()
	columns = append(columns, "status", "updated_at")

	result := r.db.WithContext(ctx).
		Model(&types.UploadSession{}).
		Where("session_id = ? AND status IN ?", sessionID, from).
		Select(columns).
		Updates(&patch)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update upload session: %w", result.Error)
	}

	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected == 0 {
		return session, fmt.Errorf("%w: session %s cannot move from %s to %s",
			types.ErrInvalidState, sessionID, session.Status, next)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("status", string(next)).
		Msg("upload session status changed")

	return session, nil
}
