package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/stowaway/internal/upload"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/rs/zerolog/log"
)

func respondError(c *gin.Context, err error) {
	code, status := types.ErrorCode(err)

	resp := types.ErrorResponse{
		Error:   http.StatusText(status),
		Details: err.Error(),
		Code:    code,
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		if code == "INTERNAL" {
			resp.Details = ""
		}
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

func handleInit(svc UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.InitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "Invalid request format",
				Details: err.Error(),
				Code:    "INVALID_ARGUMENT",
			})
			return
		}

		session, indices, err := svc.Init(c.Request.Context(), req.UploadID, req.FileName, req.FileSize, req.TotalChunks)
		if err != nil {
			respondError(c, err)
			return
		}

		if indices == nil {
			indices = []int{}
		}

		c.JSON(http.StatusOK, types.InitResponse{
			Message:         "Upload initialized",
			Status:          session.Status,
			ChunkSize:       svc.ChunkSize(),
			UploadedIndices: indices,
		})
	}
}

func handleChunk(svc UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadID := c.GetHeader(types.HeaderUploadID)
		if uploadID == "" {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: "Missing uploadId header",
				Code:  "INVALID_ARGUMENT",
			})
			return
		}

		index, err := strconv.Atoi(c.GetHeader(types.HeaderChunkIndex))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "Invalid index header",
				Details: err.Error(),
				Code:    "INVALID_ARGUMENT",
			})
			return
		}

		data, err := upload.ReadChunkBody(c.Request.Body, c.GetHeader("Content-Encoding"), svc.ChunkSize())
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, types.ErrorResponse{
					Error: "request body too large",
					Code:  "PAYLOAD_TOO_LARGE",
				})
				return
			}
			respondError(c, err)
			return
		}

		checksum := c.GetHeader(types.HeaderChunkChecksum)
		if err := svc.Ingest(c.Request.Context(), uploadID, index, data, checksum); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.ChunkResponse{
			Message: "Chunk stored",
			Index:   index,
		})
	}
}

func handleComplete(svc UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "Invalid request format",
				Details: err.Error(),
				Code:    "INVALID_ARGUMENT",
			})
			return
		}

		result, err := svc.Finalize(c.Request.Context(), req.UploadID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleStatus(svc UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadID := c.Param("uploadId")

		session, indices, err := svc.Status(c.Request.Context(), uploadID)
		if err != nil {
			respondError(c, err)
			return
		}

		if indices == nil {
			indices = []int{}
		}

		c.JSON(http.StatusOK, types.StatusResponse{
			UploadID:        session.SessionID,
			FileName:        session.FileName,
			FileSize:        session.FileSizeBytes,
			TotalChunks:     session.TotalChunks,
			Status:          session.Status,
			Hash:            session.FinalHash,
			UploadedIndices: indices,
		})
	}
}
