package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog"
)

// Uploader drives a whole upload: init, resumable chunk transfer and
// finalize
type Uploader struct {
	client    *Client
	cfg       Config
	logger    zerolog.Logger
	schedOpts []SchedulerOption
}

// UploadResult is the outcome of Uploader.Upload
type UploadResult struct {
	UploadID string
	Report   *Report
	Final    *types.FinalizeResult
}

// NewUploader creates an uploader using c for all server calls
func NewUploader(c *Client, cfg Config, opts ...SchedulerOption) *Uploader {
	return &Uploader{
		client:    c,
		cfg:       cfg.withDefaults(),
		logger:    c.logger,
		schedOpts: opts,
	}
}

// SessionIDFor derives a stable upload id from a file's name, size and
// modification time, so re-running an interrupted upload resumes it
func SessionIDFor(info os.FileInfo) string {
	key := fmt.Sprintf("%s|%d|%d", info.Name(), info.Size(), info.ModTime().UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("stowaway:"+key)).String()
}

// Upload sends the file at path. An empty uploadID selects SessionIDFor
// the file. Finalize is only requested when every chunk is done.
func (u *Uploader) Upload(ctx context.Context, path, uploadID string) (*UploadResult, error) {
	source, err := OpenFileSource(path, u.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	info, err := source.Info()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if uploadID == "" {
		uploadID = SessionIDFor(info)
	}

	result := &UploadResult{UploadID: uploadID}
	size := source.Size()
	total := utils.TotalChunks(size, u.cfg.ChunkSize)

	initResp, err := u.client.Init(ctx, types.InitRequest{
		FileName:    filepath.Base(path),
		FileSize:    size,
		TotalChunks: total,
		UploadID:    uploadID,
	})
	if err != nil {
		return result, fmt.Errorf("init upload: %w", err)
	}

	if initResp.ChunkSize != 0 && initResp.ChunkSize != u.cfg.ChunkSize {
		return result, fmt.Errorf("server chunk size %d does not match client chunk size %d",
			initResp.ChunkSize, u.cfg.ChunkSize)
	}

	switch initResp.Status {
	case types.StatusUploading, "":
	case types.StatusComplete:
		u.logger.Info().Str("session_id", uploadID).Msg("upload already complete")
		final, err := u.client.Complete(ctx, uploadID)
		if err != nil {
			return result, fmt.Errorf("complete upload: %w", err)
		}
		result.Final = final
		return result, nil
	default:
		return result, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, uploadID, initResp.Status)
	}

	opts := append([]SchedulerOption{WithSchedulerLogger(u.logger)}, u.schedOpts...)
	scheduler := NewScheduler(uploadID, source, u.client, u.cfg, opts...)

	report, err := scheduler.Run(ctx, initResp.UploadedIndices)
	result.Report = report
	if err != nil {
		return result, err
	}

	if !report.AllDone() {
		return result, fmt.Errorf("%w: %d of %d chunks failed",
			ErrIncomplete, report.Count(ChunkFailed), len(report.States))
	}

	final, err := u.client.Complete(ctx, uploadID)
	if err != nil {
		return result, fmt.Errorf("complete upload: %w", err)
	}
	result.Final = final

	u.logger.Info().
		Str("session_id", uploadID).
		Str("hash", final.Hash).
		Strs("entries", final.Entries).
		Msg("upload complete")

	return result, nil
}
