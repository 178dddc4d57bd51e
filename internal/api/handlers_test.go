package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUploadService is a mock implementation of UploadService
type MockUploadService struct {
	mock.Mock
	chunkSize int64
}

func (m *MockUploadService) Init(ctx context.Context, uploadID, fileName string, fileSize int64, totalChunks int) (*types.UploadSession, []int, error) {
	args := m.Called(ctx, uploadID, fileName, fileSize, totalChunks)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*types.UploadSession), args.Get(1).([]int), args.Error(2)
}

func (m *MockUploadService) Ingest(ctx context.Context, uploadID string, index int, data []byte, checksum string) error {
	args := m.Called(ctx, uploadID, index, data, checksum)
	return args.Error(0)
}

func (m *MockUploadService) Finalize(ctx context.Context, uploadID string) (*types.FinalizeResult, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.FinalizeResult), args.Error(1)
}

func (m *MockUploadService) Status(ctx context.Context, uploadID string) (*types.UploadSession, []int, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*types.UploadSession), args.Get(1).([]int), args.Error(2)
}

func (m *MockUploadService) ChunkSize() int64 {
	return m.chunkSize
}

func setupTestRouter(svc UploadService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	UploadRoutes(router.Group("/api"), svc, 64)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleInit(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	session := &types.UploadSession{SessionID: "abc", Status: types.StatusUploading}
	svc.On("Init", mock.Anything, "abc", "data.zip", int64(40), 3).Return(session, []int{0, 2}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/upload/init", types.InitRequest{
		FileName: "data.zip", FileSize: 40, TotalChunks: 3, UploadID: "abc",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.InitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []int{0, 2}, resp.UploadedIndices)
	assert.Equal(t, types.StatusUploading, resp.Status)
	assert.Equal(t, int64(16), resp.ChunkSize)
	svc.AssertExpectations(t)
}

func TestHandleInit_EmptyIndicesSerializeAsArray(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	session := &types.UploadSession{SessionID: "new", Status: types.StatusUploading}
	svc.On("Init", mock.Anything, "new", "a.bin", int64(1), 1).Return(session, []int(nil), nil)

	w := doJSON(t, router, http.MethodPost, "/api/upload/init", types.InitRequest{
		FileName: "a.bin", FileSize: 1, TotalChunks: 1, UploadID: "new",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"uploadedIndices":[]`)
}

func TestHandleInit_BadRequest(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/api/upload/init", map[string]interface{}{"fileName": "a.bin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, w).Code)
	svc.AssertNotCalled(t, "Init")
}

func TestHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not found", err: fmt.Errorf("%w: x", types.ErrNotFound), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "incomplete", err: fmt.Errorf("%w: 1 of 3 chunks missing", types.ErrIncompleteUpload), wantStatus: http.StatusConflict, wantCode: "INCOMPLETE_UPLOAD"},
		{name: "invalid state", err: fmt.Errorf("%w: FAILED", types.ErrInvalidState), wantStatus: http.StatusConflict, wantCode: "INVALID_STATE"},
		{name: "finalization", err: fmt.Errorf("%w: rename", types.ErrFinalization), wantStatus: http.StatusInternalServerError, wantCode: "FINALIZATION_ERROR"},
		{name: "unclassified", err: fmt.Errorf("connection reset"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockUploadService{chunkSize: 16}
			router := setupTestRouter(svc)
			svc.On("Finalize", mock.Anything, "abc").Return(nil, tt.err)

			w := doJSON(t, router, http.MethodPost, "/api/upload/complete", types.CompleteRequest{UploadID: "abc"})
			assert.Equal(t, tt.wantStatus, w.Code)

			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantCode == "INTERNAL" {
				assert.Empty(t, resp.Details)
			}
		})
	}
}

func TestHandleComplete(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	svc.On("Finalize", mock.Anything, "abc").Return(&types.FinalizeResult{
		Status:  types.StatusComplete,
		Hash:    "cafe",
		Entries: []string{"a.txt"},
	}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/upload/complete", types.CompleteRequest{UploadID: "abc"})
	assert.Equal(t, http.StatusOK, w.Code)

	var result types.FinalizeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, types.StatusComplete, result.Status)
	assert.Equal(t, "cafe", result.Hash)
	assert.Equal(t, []string{"a.txt"}, result.Entries)
}

func chunkRequest(uploadID, index string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/upload/chunk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if uploadID != "" {
		req.Header.Set(types.HeaderUploadID, uploadID)
	}
	if index != "" {
		req.Header.Set(types.HeaderChunkIndex, index)
	}
	return req
}

func TestHandleChunk(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	body := []byte("0123456789abcdef")
	sum := utils.ChunkChecksum(body)
	svc.On("Ingest", mock.Anything, "abc", 1, body, sum).Return(nil)

	req := chunkRequest("abc", "1", body)
	req.Header.Set(types.HeaderChunkChecksum, sum)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.ChunkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Index)
	svc.AssertExpectations(t)
}

func TestHandleChunk_Zstd(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	body := []byte("aaaaaaaaaaaaaaaa")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(body, nil)
	enc.Close()

	svc.On("Ingest", mock.Anything, "abc", 0, body, "").Return(nil)

	req := chunkRequest("abc", "0", compressed)
	req.Header.Set("Content-Encoding", "zstd")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestHandleChunk_BadRequests(t *testing.T) {
	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{name: "missing upload id", req: chunkRequest("", "0", []byte("x")), wantStatus: http.StatusBadRequest},
		{name: "missing index", req: chunkRequest("abc", "", []byte("x")), wantStatus: http.StatusBadRequest},
		{name: "non-numeric index", req: chunkRequest("abc", "one", []byte("x")), wantStatus: http.StatusBadRequest},
		{name: "larger than chunk size", req: chunkRequest("abc", "0", bytes.Repeat([]byte("x"), 17)), wantStatus: http.StatusBadRequest},
		{name: "larger than body limit", req: chunkRequest("abc", "0", bytes.Repeat([]byte("x"), 65)), wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockUploadService{chunkSize: 16}
			router := setupTestRouter(svc)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.req)

			assert.Equal(t, tt.wantStatus, w.Code)
			svc.AssertNotCalled(t, "Ingest")
		})
	}
}

func TestHandleChunk_DiskWriteError(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	svc.On("Ingest", mock.Anything, "abc", 0, mock.Anything, "").
		Return(fmt.Errorf("%w: disk full", types.ErrDiskWrite))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, chunkRequest("abc", "0", []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "DISK_WRITE_ERROR", decodeError(t, w).Code)
}

func TestHandleStatus(t *testing.T) {
	svc := &MockUploadService{chunkSize: 16}
	router := setupTestRouter(svc)

	session := &types.UploadSession{
		SessionID:     "abc",
		FileName:      "data.zip",
		FileSizeBytes: 40,
		TotalChunks:   3,
		Status:        types.StatusComplete,
		FinalHash:     "cafe",
	}
	svc.On("Status", mock.Anything, "abc").Return(session, []int{0, 1, 2}, nil)
	svc.On("Status", mock.Anything, "nope").Return(nil, nil, types.ErrNotFound)

	w := doJSON(t, router, http.MethodGet, "/api/upload/abc", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp types.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.UploadID)
	assert.Equal(t, types.StatusComplete, resp.Status)
	assert.Equal(t, "cafe", resp.Hash)
	assert.Equal(t, []int{0, 1, 2}, resp.UploadedIndices)

	w = doJSON(t, router, http.MethodGet, "/api/upload/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRouter(t *testing.T) {
	router := NewRouter(&MockUploadService{chunkSize: 16}, 64)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	req := httptest.NewRequest(http.MethodOptions, "/api/upload/chunk", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "uploadId"))
}
