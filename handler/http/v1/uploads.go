package v1

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

type UploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	S3Key     string `json:"s3_key"`
}

// CreateUploadURL godoc
// @Summary Issue a presigned URL for uploading an input file
// @Tags uploads
// @Accept json
// @Produce json
// @Param request body UploadURLRequest true "File to upload"
// @Success 200 {object} UploadURLResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /upload-url [post]
func (h *Handler) CreateUploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	ext := strings.ToLower(path.Ext(req.Filename))
	if ext == "" {
		ext = ".wav"
	}
	key := h.cfg.InputPrefix + uuid.NewString() + ext

	url, err := h.uploads.PresignPut(c.Request.Context(), key, h.cfg.PresignExpiry)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, UploadURLResponse{UploadURL: url, S3Key: key})
}
