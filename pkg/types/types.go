package types

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusUploading Status = "UPLOADING"
	StatusSealing   Status = "SEALING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
)

// transitions lists the legal successor states of each status.
// COMPLETE and FAILED are terminal.
var transitions = map[Status][]Status{
	StatusUploading: {StatusSealing, StatusFailed},
	StatusSealing:   {StatusComplete, StatusFailed},
	StatusComplete:  nil,
	StatusFailed:    nil,
}

// ParseStatus converts a persisted string into a Status
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("unknown upload status %q", s)
	}
	return status, nil
}

// CanTransitionTo reports whether moving from s to next is legal
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may legally move to s
func (s Status) Predecessors() []Status {
	var from []Status
	for candidate, successors := range transitions {
		for _, next := range successors {
			if next == s {
				from = append(from, candidate)
			}
		}
	}
	return from
}

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Value implements the driver.Valuer interface for GORM
func (s Status) Value() (driver.Value, error) {
	if _, ok := transitions[s]; !ok {
		return nil, fmt.Errorf("refusing to persist unknown upload status %q", string(s))
	}
	return string(s), nil
}

// Scan implements the sql.Scanner interface for GORM
func (s *Status) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into Status", value)
	}

	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UploadSession is one logical resumable transfer of a single file
type UploadSession struct {
	ID            uuid.UUID `json:"-" gorm:"primaryKey"`
	SessionID     string    `json:"uploadId" gorm:"uniqueIndex;not null;size:255"`
	FileName      string    `json:"fileName" gorm:"not null"`
	FileSizeBytes int64     `json:"fileSize" gorm:"not null"`
	TotalChunks   int       `json:"totalChunks" gorm:"not null"`
	Status        Status    `json:"status" gorm:"type:varchar(16);not null;index"`
	FinalHash     string    `json:"hash,omitempty"`
	FinalPath     string    `json:"-"`
	Entries       []string  `json:"entries,omitempty" gorm:"serializer:json"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BeforeCreate generates a UUID and defaults the status
func (u *UploadSession) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = StatusUploading
	}
	return nil
}

// ChunkStatus is the persisted state of a chunk. A record exists only
// once the chunk bytes are on disk, so STORED is the only value.
type ChunkStatus string

const ChunkStored ChunkStatus = "STORED"

// ChunkRecord marks one chunk index of a session as durably stored
type ChunkRecord struct {
	ID         uuid.UUID   `json:"-" gorm:"primaryKey"`
	SessionID  string      `json:"uploadId" gorm:"not null;size:255;uniqueIndex:idx_chunk_session_index,priority:1"`
	ChunkIndex int         `json:"index" gorm:"not null;uniqueIndex:idx_chunk_session_index,priority:2"`
	Status     ChunkStatus `json:"status" gorm:"type:varchar(16);not null"`
	Size       int64       `json:"size"`
	Checksum   string      `json:"checksum,omitempty"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// BeforeCreate generates a UUID for the chunk record
func (c *ChunkRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ChunkStored
	}
	return nil
}

// FinalizeResult is the outcome of sealing a session
type FinalizeResult struct {
	Status  Status   `json:"status"`
	Hash    string   `json:"hash"`
	Entries []string `json:"entries"`
}
