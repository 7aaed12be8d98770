package models

import "time"

type FileStatus string

const (
	StatusUploading  FileStatus = "uploading"
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Terminal reports whether polling should stop at this status.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// UploadedFile tracks a file from selection until the backend finishes processing it.
type UploadedFile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	Type      string     `json:"type"`
	UploadID  string     `json:"upload_id,omitempty"`
	Extension string     `json:"extension,omitempty"`
	Progress  int        `json:"progress,omitempty"`
	Status    FileStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Attachable reports whether the file may be attached to a chat.
func (f *UploadedFile) Attachable() bool {
	return f != nil && f.Status == StatusCompleted && f.UploadID != ""
}

// AsAttached projects the file onto the attachment subset.
func (f *UploadedFile) AsAttached() AttachedFile {
	return AttachedFile{
		ID:        f.ID,
		Name:      f.Name,
		Size:      f.Size,
		Type:      f.Type,
		UploadID:  f.UploadID,
		Extension: f.Extension,
	}
}

// AttachedFile is a completed upload associated with a chat.
type AttachedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	UploadID  string `json:"upload_id"`
	Extension string `json:"extension"`
}
