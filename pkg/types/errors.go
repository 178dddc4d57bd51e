package types

import (
	"errors"
	"net/http"
)

// Error taxonomy of the upload engine. Wrap with fmt.Errorf("%w: ...")
// and classify with errors.Is.
var (
	ErrNotFound         = errors.New("upload session not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrDiskWrite        = errors.New("disk write error")
	ErrIncompleteUpload = errors.New("incomplete upload")
	ErrFinalization     = errors.New("finalization failed")
)

// ErrorCode returns the stable API code and HTTP status for err
func ErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT", http.StatusBadRequest
	case errors.Is(err, ErrIncompleteUpload):
		return "INCOMPLETE_UPLOAD", http.StatusConflict
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE", http.StatusConflict
	case errors.Is(err, ErrDiskWrite):
		return "DISK_WRITE_ERROR", http.StatusInternalServerError
	case errors.Is(err, ErrFinalization):
		return "FINALIZATION_ERROR", http.StatusInternalServerError
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}
