package models

import "time"

// Chat owns its messages, attachments and in-flight uploads.
type Chat struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	FolderID       string          `json:"folder_id,omitempty"`
	Messages       []*Message      `json:"messages"`
	AttachedFiles  []*AttachedFile `json:"attached_files"`
	UploadingFiles []*UploadedFile `json:"uploading_files"`
	IsLoaded       bool            `json:"is_loaded"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone deep-copies the chat so callers never share store memory.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		cp.Messages = append(cp.Messages, m.Clone())
	}
	cp.AttachedFiles = make([]*AttachedFile, 0, len(c.AttachedFiles))
	for _, f := range c.AttachedFiles {
		af := *f
		cp.AttachedFiles = append(cp.AttachedFiles, &af)
	}
	cp.UploadingFiles = make([]*UploadedFile, 0, len(c.UploadingFiles))
	for _, f := range c.UploadingFiles {
		uf := *f
		cp.UploadingFiles = append(cp.UploadingFiles, &uf)
	}
	return &cp
}

// ChatUpdate carries optional field changes; nil means unchanged.
type ChatUpdate struct {
	Name     *string `json:"name,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// Folder groups chats by back-reference (Chat.FolderID).
type Folder struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Chats      []string  `json:"chats,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	IsSelected bool      `json:"is_selected,omitempty"`
}

// User is the identity returned by the backend.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}
