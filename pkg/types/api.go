package types

// Wire headers of the chunk endpoint
const (
	HeaderUploadID      = "uploadId"
	HeaderChunkIndex    = "index"
	HeaderChunkChecksum = "X-Chunk-Checksum"
)

// InitRequest opens or resumes a session
type InitRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	UploadID    string `json:"uploadId" binding:"required"`
}

// InitResponse reports which chunk indices are already stored
type InitResponse struct {
	Message         string `json:"message"`
	Status          Status `json:"status"`
	ChunkSize       int64  `json:"chunkSize"`
	UploadedIndices []int  `json:"uploadedIndices"`
}

// ChunkResponse acknowledges a stored chunk
type ChunkResponse struct {
	Message string `json:"message"`
	Index   int    `json:"index"`
}

// CompleteRequest asks the server to seal a session
type CompleteRequest struct {
	UploadID string `json:"uploadId" binding:"required"`
}

// StatusResponse describes a session and its stored chunks
type StatusResponse struct {
	UploadID        string `json:"uploadId"`
	FileName        string `json:"fileName"`
	FileSize        int64  `json:"fileSize"`
	TotalChunks     int    `json:"totalChunks"`
	Status          Status `json:"status"`
	Hash            string `json:"hash,omitempty"`
	UploadedIndices []int  `json:"uploadedIndices"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}
