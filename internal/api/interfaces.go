package api

import (
	"context"

	"github.com/lgulliver/stowaway/pkg/types"
)

// UploadService defines the contract the HTTP layer needs from the upload engine
type UploadService interface {
	Init(ctx context.Context, uploadID, fileName string, fileSize int64, totalChunks int) (*types.UploadSession, []int, error)
	Ingest(ctx context.Context, uploadID string, index int, data []byte, checksum string) error
	Finalize(ctx context.Context, uploadID string) (*types.FinalizeResult, error)
	Status(ctx context.Context, uploadID string) (*types.UploadSession, []int, error)
	ChunkSize() int64
}
