package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for form boundaries and the chat_id field.
const multipartOverhead = 1 << 20

type removeUploadRequest struct {
	ChatID string `json:"chat_id"`
	FileID string `json:"file_id"`
}

// uploadFile accepts multipart field "file" plus "chat_id" and answers once
// the backend has the file; processing is watched in the background.
func (h *Handler) uploadFile(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	chatID := c.PostForm("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	file, err := ws.Uploads.Upload(c.Request.Context(), chatID, filepath.Base(header.Filename), mimeType, header.Size, f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"file": file})
}

func (h *Handler) uploadStatus(c *gin.Context) {
	uploadID := c.Query("upload_id")
	if uploadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload_id is required"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	status, err := ws.Uploads.Status(c.Request.Context(), uploadID, c.Query("extension"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID, "status": status})
}

// uploadRemove drops an in-flight upload when chat_id is given, otherwise a
// processed file.
func (h *Handler) uploadRemove(c *gin.Context) {
	var req removeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_id is required"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var err error
	if req.ChatID != "" {
		err = ws.Uploads.RemoveUploading(c.Request.Context(), req.ChatID, req.FileID)
	} else {
		err = ws.Uploads.RemoveFile(c.Request.Context(), req.FileID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listFiles(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": ws.Files.List()})
}

func (h *Handler) deleteFile(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Uploads.RemoveFile(c.Request.Context(), c.Param("file_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
