package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lgulliver/stowaway/pkg/types"
)

// ErrSessionClosed is returned when the server session can no longer take chunks
var ErrSessionClosed = errors.New("upload session is closed")

// ErrIncomplete is returned when some chunks could not be transferred
var ErrIncomplete = errors.New("upload incomplete")

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match an APIError against the server error taxonomy
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "NOT_FOUND":
		return target == types.ErrNotFound
	case "INVALID_ARGUMENT":
		return target == types.ErrInvalidArgument
	case "INVALID_STATE":
		return target == types.ErrInvalidState
	case "INCOMPLETE_UPLOAD":
		return target == types.ErrIncompleteUpload
	case "DISK_WRITE_ERROR":
		return target == types.ErrDiskWrite
	case "FINALIZATION_ERROR":
		return target == types.ErrFinalization
	}
	return false
}

func unwrapError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var body types.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	msg := body.Error
	if body.Details != "" {
		msg = body.Details
	}
	return &APIError{StatusCode: resp.StatusCode, Code: body.Code, Message: msg}
}
