package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ureka/internal/models"
)

// FolderStore tracks the user's folders and their expansion/selection state.
// Chat membership is read from the chat store's back-references.
type FolderStore struct {
	userID string
	db     FolderPersistence
	chats  *ChatStore

	mu       sync.RWMutex
	folders  map[string]*models.Folder
	expanded map[string]bool
	selected string
}

func NewFolderStore(userID string, db FolderPersistence, chats *ChatStore) *FolderStore {
	return &FolderStore{
		userID:   userID,
		db:       db,
		chats:    chats,
		folders:  make(map[string]*models.Folder),
		expanded: make(map[string]bool),
	}
}

func (s *FolderStore) Load(ctx context.Context) error {
	folders, err := s.db.ListFolders(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}
	next := make(map[string]*models.Folder, len(folders))
	for _, f := range folders {
		next[f.ID] = f
	}
	s.mu.Lock()
	s.folders = next
	if _, ok := next[s.selected]; !ok {
		s.selected = ""
	}
	s.mu.Unlock()
	return nil
}

// List returns the folders by creation time with chat ids and selection filled in.
func (s *FolderStore) List() []*models.Folder {
	s.mu.RLock()
	out := make([]*models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, s.viewLocked(f))
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

func (s *FolderStore) Get(id string) (*models.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, false
	}
	return s.viewLocked(f), true
}

func (s *FolderStore) viewLocked(f *models.Folder) *models.Folder {
	cp := *f
	cp.IsSelected = f.ID == s.selected
	if s.chats != nil {
		cp.Chats = s.chats.ChatsInFolder(f.ID)
	}
	return &cp
}

func (s *FolderStore) Create(ctx context.Context, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	folder := &models.Folder{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	if err := s.db.CreateFolder(ctx, s.userID, folder); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	s.mu.Lock()
	s.folders[folder.ID] = folder
	s.mu.Unlock()
	f, _ := s.Get(folder.ID)
	return f, nil
}

func (s *FolderStore) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	if _, ok := s.Get(id); !ok {
		return ErrFolderNotFound
	}
	if err := s.db.RenameFolder(ctx, s.userID, id, name); err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	s.mu.Lock()
	if f, ok := s.folders[id]; ok {
		f.Name = name
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the folder; its chats stay and lose the back-reference.
func (s *FolderStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.Get(id); !ok {
		return ErrFolderNotFound
	}
	if err := s.db.DeleteFolder(ctx, s.userID, id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	s.mu.Lock()
	delete(s.folders, id)
	delete(s.expanded, id)
	if s.selected == id {
		s.selected = ""
	}
	s.mu.Unlock()
	if s.chats != nil {
		s.chats.ClearFolder(id)
	}
	return nil
}

// ToggleExpanded flips the folder's expansion and returns the new state.
func (s *FolderStore) ToggleExpanded(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[id]; !ok {
		return false, ErrFolderNotFound
	}
	s.expanded[id] = !s.expanded[id]
	return s.expanded[id], nil
}

func (s *FolderStore) IsExpanded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expanded[id]
}

// Select marks one folder selected; an empty id clears the selection.
func (s *FolderStore) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.folders[id]; !ok {
			return ErrFolderNotFound
		}
	}
	s.selected = id
	return nil
}

func (s *FolderStore) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}
