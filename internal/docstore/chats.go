package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ureka/internal/models"
)

// CreateChat inserts a new chat document for the user.
func (s *Service) CreateChat(ctx context.Context, userID string, chat *models.Chat) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if chat == nil || chat.ID == "" {
		return errors.New("chat id is required")
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	_, err := s.exec(ctx,
		`INSERT INTO chats (id, user_id, name, folder_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, userID, chat.Name, nullString(chat.FolderID), chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// ListChats returns the user's chats without messages, most recent first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	rows, err := s.query(ctx,
		`SELECT id, name, folder_id, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		c := new(models.Chat)
		var folder sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &folder, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.FolderID = folder.String
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpdateChat applies the non-nil fields of update and bumps updated_at.
func (s *Service) UpdateChat(ctx context.Context, userID, chatID string, update models.ChatUpdate) error {
	if chatID == "" {
		return errors.New("invalid chat id")
	}
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return errors.New("chat name cannot be empty")
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if update.FolderID != nil {
		sets = append(sets, "folder_id = ?")
		args = append(args, nullString(*update.FolderID))
	}
	args = append(args, chatID, userID)
	res, err := s.exec(ctx,
		`UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return affectedOrNotFound(res, "chat")
}

// TouchChat bumps updated_at.
func (s *Service) TouchChat(ctx context.Context, userID, chatID string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE chats SET updated_at = ? WHERE id = ? AND user_id = ?`, at, chatID, userID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat with its messages and attachments.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) (err error) {
	if chatID == "" {
		return errors.New("invalid chat id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM chats WHERE id = ? AND user_id = ?`), chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err = affectedOrNotFound(res, "chat"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE chat_id = ?`), chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.q(`DELETE FROM chat_files WHERE chat_id = ?`), chatID); err != nil {
		return fmt.Errorf("delete chat files: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

// ListAttachedFiles returns the files attached to a chat in attach order.
func (s *Service) ListAttachedFiles(ctx context.Context, userID, chatID string) ([]*models.AttachedFile, error) {
	rows, err := s.query(ctx,
		`SELECT file_id, name, size, mime_type, upload_id, extension FROM chat_files
		 WHERE chat_id = ? AND user_id = ? ORDER BY attached_at ASC`,
		chatID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attached files: %w", err)
	}
	defer rows.Close()

	var files []*models.AttachedFile
	for rows.Next() {
		f := new(models.AttachedFile)
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.Type, &f.UploadID, &f.Extension); err != nil {
			return nil, fmt.Errorf("scan attached file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// AttachFile links a file to a chat; attaching twice is a no-op.
func (s *Service) AttachFile(ctx context.Context, userID, chatID string, file *models.AttachedFile) error {
	if file == nil || file.ID == "" {
		return errors.New("file id is required")
	}
	var exists bool
	if err := s.queryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE id = ? AND user_id = ?)`, chatID, userID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify chat: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	if err := s.queryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_files WHERE chat_id = ? AND file_id = ?)`, chatID, file.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify attachment: %w", err)
	}
	if exists {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO chat_files (chat_id, file_id, user_id, name, size, mime_type, upload_id, extension, attached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chatID, file.ID, userID, file.Name, file.Size, file.Type, file.UploadID, file.Extension, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("attach file: %w", err)
	}
	return nil
}

// DetachFile unlinks a file from a chat.
func (s *Service) DetachFile(ctx context.Context, userID, chatID, fileID string) error {
	res, err := s.exec(ctx,
		`DELETE FROM chat_files WHERE chat_id = ? AND file_id = ? AND user_id = ?`,
		chatID, fileID, userID,
	)
	if err != nil {
		return fmt.Errorf("detach file: %w", err)
	}
	return affectedOrNotFound(res, "chat file")
}
