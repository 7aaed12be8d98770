package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ureka/internal/models"
)

func (s *Service) ListFolders(ctx context.Context, userID string) ([]*models.Folder, error) {
	rows, err := s.query(ctx,
		`SELECT id, name, created_at FROM folders WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		f := new(models.Folder)
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func (s *Service) CreateFolder(ctx context.Context, userID string, folder *models.Folder) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if folder == nil || folder.ID == "" {
		return errors.New("folder id is required")
	}
	folder.Name = strings.TrimSpace(folder.Name)
	if folder.Name == "" {
		return errors.New("folder name cannot be empty")
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now().UTC()
	}
	if _, err := s.exec(ctx,
		`INSERT INTO folders (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		folder.ID, userID, folder.Name, folder.CreatedAt,
	); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func (s *Service) RenameFolder(ctx context.Context, userID, folderID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("folder name cannot be empty")
	}
	res, err := s.exec(ctx, `UPDATE folders SET name = ? WHERE id = ? AND user_id = ?`, name, folderID, userID)
	if err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	return affectedOrNotFound(res, "folder")
}

// DeleteFolder removes a folder; its chats survive with folder_id cleared.
func (s *Service) DeleteFolder(ctx context.Context, userID, folderID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM folders WHERE id = ? AND user_id = ?`), folderID, userID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if err = affectedOrNotFound(res, "folder"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		s.q(`UPDATE chats SET folder_id = NULL WHERE folder_id = ? AND user_id = ?`), folderID, userID,
	); err != nil {
		return fmt.Errorf("release folder chats: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete folder: %w", err)
	}
	return nil
}
