package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lgulliver/stowaway/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkStore records which chunk indices have durably landed. The unique
// (session_id, chunk_index) index makes RecordStored an upsert.
type ChunkStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewChunkStore creates a new chunk store
func NewChunkStore(db *gorm.DB) *ChunkStore {
	return &ChunkStore{db: db, now: time.Now}
}

// RecordStored upserts the STORED record for (sessionID, index). Repeated
// calls only refresh the timestamp, size and checksum.
func (s *ChunkStore) RecordStored(ctx context.Context, sessionID string, index int, size int64, checksum string) error {
	record := &types.ChunkRecord{
		SessionID:  sessionID,
		ChunkIndex: index,
		Status:     types.ChunkStored,
		Size:       size,
		Checksum:   checksum,
		ReceivedAt: s.now(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"received_at", "size", "checksum"}),
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to record chunk %d of %s: %w", index, sessionID, err)
	}
	return nil
}

// DeleteSession removes every chunk record of sessionID and returns how
// many there were. Used when the staging bytes behind them are gone.
func (s *ChunkStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&types.ChunkRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete chunk records of %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}
