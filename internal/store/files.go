package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ureka/internal/models"
)

// FileStore tracks the user's processed uploads.
type FileStore struct {
	userID string
	db     FilePersistence

	mu    sync.RWMutex
	files map[string]*models.UploadedFile
}

func NewFileStore(userID string, db FilePersistence) *FileStore {
	return &FileStore{userID: userID, db: db, files: make(map[string]*models.UploadedFile)}
}

func (s *FileStore) Load(ctx context.Context) error {
	files, err := s.db.ListFiles(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	next := make(map[string]*models.UploadedFile, len(files))
	for _, f := range files {
		next[f.ID] = f
	}
	s.mu.Lock()
	s.files = next
	s.mu.Unlock()
	return nil
}

// List returns copies of the files, oldest first.
func (s *FileStore) List() []*models.UploadedFile {
	s.mu.RLock()
	out := make([]*models.UploadedFile, 0, len(s.files))
	for _, f := range s.files {
		cp := *f
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *FileStore) Get(id string) (*models.UploadedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// Add persists the file and then inserts it.
func (s *FileStore) Add(ctx context.Context, file *models.UploadedFile) error {
	if file == nil || file.ID == "" {
		return fmt.Errorf("add file: id required")
	}
	cp := *file
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if err := s.db.SaveFile(ctx, s.userID, &cp); err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	s.mu.Lock()
	s.files[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Remove deletes the file remotely, then locally.
func (s *FileStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.Get(id); !ok {
		return ErrFileNotFound
	}
	if err := s.db.DeleteFile(ctx, s.userID, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	s.mu.Lock()
	delete(s.files, id)
	s.mu.Unlock()
	return nil
}
