package store

import (
	"context"
	"errors"

	"ureka/internal/models"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrFolderNotFound  = errors.New("folder not found")
	// ErrFileNotReady rejects attachments of files that are not completed or
	// carry no upload id.
	ErrFileNotReady = errors.New("file is not ready to attach")
	ErrInvalidName  = errors.New("name is required")
)

// ChatPersistence is the remote document store behind ChatStore.
type ChatPersistence interface {
	CreateChat(ctx context.Context, userID string, chat *models.Chat) error
	ListChats(ctx context.Context, userID string) ([]*models.Chat, error)
	UpdateChat(ctx context.Context, userID, chatID string, update models.ChatUpdate) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	ListMessages(ctx context.Context, userID, chatID string) ([]*models.Message, error)
	AddMessage(ctx context.Context, userID, chatID string, msg *models.Message) error
	UpdateMessage(ctx context.Context, userID, chatID, messageID, content string) error
	DeleteMessage(ctx context.Context, userID, chatID, messageID string) error
	ListAttachedFiles(ctx context.Context, userID, chatID string) ([]*models.AttachedFile, error)
	AttachFile(ctx context.Context, userID, chatID string, file *models.AttachedFile) error
	DetachFile(ctx context.Context, userID, chatID, fileID string) error
}

type FilePersistence interface {
	ListFiles(ctx context.Context, userID string) ([]*models.UploadedFile, error)
	SaveFile(ctx context.Context, userID string, file *models.UploadedFile) error
	DeleteFile(ctx context.Context, userID, fileID string) error
}

type FolderPersistence interface {
	ListFolders(ctx context.Context, userID string) ([]*models.Folder, error)
	CreateFolder(ctx context.Context, userID string, folder *models.Folder) error
	RenameFolder(ctx context.Context, userID, folderID, name string) error
	DeleteFolder(ctx context.Context, userID, folderID string) error
}

// Persistence is everything the three stores need.
type Persistence interface {
	ChatPersistence
	FilePersistence
	FolderPersistence
}
