package janitor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/lgulliver/stowaway/internal/storage"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog/log"
)

// SessionAbandoner fails sessions whose staging file is about to be removed
type SessionAbandoner interface {
	MarkAbandoned(ctx context.Context, sessionID string) (*types.UploadSession, error)
}

// Janitor removes staging files of abandoned uploads. Final artifacts are
// never touched.
type Janitor struct {
	storage   storage.BlobStorage
	sessions  SessionAbandoner
	retention time.Duration
	now       func() time.Time
}

// SweepResult summarizes one pass
type SweepResult struct {
	Removed    int
	Skipped    int
	BytesFreed int64
}

// New creates a janitor that removes staging files not modified within retention
func New(store storage.BlobStorage, sessions SessionAbandoner, retention time.Duration) *Janitor {
	return &Janitor{
		storage:   store,
		sessions:  sessions,
		retention: retention,
		now:       time.Now,
	}
}

// Sweep performs one cleanup pass. Sessions still UPLOADING are marked
// FAILED before their staging file goes, so their chunk records can no
// longer drive a resume. Files of sessions being sealed are left alone.
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	files, err := j.storage.List(ctx, "")
	if err != nil {
		return result, err
	}

	cutoff := j.now().Add(-j.retention)
	for _, file := range files {
		if strings.HasPrefix(file.Path, utils.FinalPrefix) || !file.ModTime.Before(cutoff) {
			continue
		}

		if !j.abandon(ctx, file.Path) {
			result.Skipped++
			continue
		}

		if err := j.storage.Delete(ctx, file.Path); err != nil {
			log.Warn().Err(err).Str("path", file.Path).Msg("failed to remove staging file")
			result.Skipped++
			continue
		}

		result.Removed++
		result.BytesFreed += file.Size
		log.Info().
			Str("path", file.Path).
			Time("modified", file.ModTime).
			Msg("removed abandoned staging file")
	}

	if result.Removed > 0 {
		log.Info().
			Int("count", result.Removed).
			Str("freed", units.BytesSize(float64(result.BytesFreed))).
			Msg("cleaned up abandoned staging files")
	}

	return result, nil
}

// abandon reports whether the staging file of sessionID may be removed
func (j *Janitor) abandon(ctx context.Context, sessionID string) bool {
	sess, err := j.sessions.MarkAbandoned(ctx, sessionID)
	switch {
	case err == nil, errors.Is(err, types.ErrNotFound):
		return true
	case errors.Is(err, types.ErrInvalidState):
		return sess != nil && sess.Status != types.StatusSealing
	default:
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to abandon session")
		return false
	}
}

// Run sweeps every interval until ctx is done
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("staging sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
