package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ureka/internal/models"
)

// ListFiles returns the user's uploaded files, oldest first.
func (s *Service) ListFiles(ctx context.Context, userID string) ([]*models.UploadedFile, error) {
	rows, err := s.query(ctx,
		`SELECT id, name, size, mime_type, upload_id, extension, status, created_at FROM files
		 WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*models.UploadedFile
	for rows.Next() {
		f := new(models.UploadedFile)
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.Type, &f.UploadID, &f.Extension, &f.Status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SaveFile records an uploaded file's metadata.
func (s *Service) SaveFile(ctx context.Context, userID string, file *models.UploadedFile) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if file == nil || file.ID == "" {
		return errors.New("file id is required")
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO files (id, user_id, name, size, mime_type, upload_id, extension, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, userID, file.Name, file.Size, file.Type, file.UploadID, file.Extension, file.Status, file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

// DeleteFile removes the file record and every chat link to it.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM files WHERE id = ? AND user_id = ?`), fileID, userID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err = affectedOrNotFound(res, "file"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, s.q(`DELETE FROM chat_files WHERE file_id = ? AND user_id = ?`), fileID, userID); err != nil {
		return fmt.Errorf("delete file links: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete file: %w", err)
	}
	return nil
}
