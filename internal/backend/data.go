package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"ureka/internal/models"
)

const dataPath = "/v1/api/data"

// UploadResult identifies a file the backend accepted for processing.
type UploadResult struct {
	UploadID  string            `json:"upload_id"`
	Extension string            `json:"extension"`
	Status    models.FileStatus `json:"status"`
}

// UploadFile sends the file as multipart form field "file".
func (u *UserClient) UploadFile(ctx context.Context, name string, content io.Reader) (*UploadResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("file name is required")
	}
	if content == nil {
		return nil, invalid("file content is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var out UploadResult
	err = u.do(ctx, request{
		method:      http.MethodPost,
		path:        dataPath + "/upload-file",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.UploadID == "" {
		return nil, fmt.Errorf("upload %s: backend returned no upload_id", name)
	}
	if out.Extension == "" {
		out.Extension = Extension(name)
	}
	return &out, nil
}

// UploadStatus reports the processing state of an upload.
func (u *UserClient) UploadStatus(ctx context.Context, uploadID, extension string) (models.FileStatus, error) {
	if uploadID == "" {
		return "", invalid("upload_id is required")
	}
	q := url.Values{}
	q.Set("upload_id", uploadID)
	q.Set("extension", extension)
	var out struct {
		Status string `json:"status"`
	}
	req := request{method: http.MethodGet, path: dataPath + "/upload-status?" + q.Encode()}
	if err := u.do(ctx, req, &out); err != nil {
		return "", err
	}
	return NormalizeStatus(out.Status), nil
}

func (u *UserClient) RemoveUpload(ctx context.Context, uploadID, extension string) error {
	if uploadID == "" {
		return invalid("upload_id is required")
	}
	req, err := jsonRequest(http.MethodPost, dataPath+"/upload-remove", map[string]string{
		"upload_id": uploadID,
		"extension": extension,
	})
	if err != nil {
		return err
	}
	return u.do(ctx, req, nil)
}

// NormalizeStatus maps backend status strings onto FileStatus values.
func NormalizeStatus(raw string) models.FileStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "done":
		return models.StatusCompleted
	case "failed", "error":
		return models.StatusFailed
	case "pending":
		return models.StatusPending
	case "uploading":
		return models.StatusUploading
	default:
		return models.StatusProcessing
	}
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
