package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"ureka/internal/models"
)

const defaultChatName = "New chat"

// ChatStore owns one user's chats with their messages, attachments and
// in-flight uploads. Every mutation that must survive goes to the
// persistence layer first; failures are returned and never retried.
type ChatStore struct {
	userID string
	db     ChatPersistence
	now    func() time.Time

	mu     sync.RWMutex
	chats  map[string]*models.Chat
	active string

	loads singleflight.Group
}

func NewChatStore(userID string, db ChatPersistence) *ChatStore {
	return &ChatStore{
		userID: userID,
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		chats:  make(map[string]*models.Chat),
	}
}

// CreateChat persists the chat and only then inserts it locally.
func (s *ChatStore) CreateChat(ctx context.Context, id, name, folderID string) (*models.Chat, error) {
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultChatName
	}
	now := s.now()
	chat := &models.Chat{
		ID:             id,
		Name:           name,
		FolderID:       folderID,
		Messages:       []*models.Message{},
		AttachedFiles:  []*models.AttachedFile{},
		UploadingFiles: []*models.UploadedFile{},
		IsLoaded:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateChat(ctx, s.userID, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.mu.Lock()
	s.chats[id] = chat
	s.mu.Unlock()
	return chat.Clone(), nil
}

// LoadChats hydrates the chat list. Messages stay unloaded until the chat
// becomes active; chats that are already loaded keep their local state.
func (s *ChatStore) LoadChats(ctx context.Context) error {
	remote, err := s.db.ListChats(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*models.Chat, len(remote))
	for _, c := range remote {
		if local, ok := s.chats[c.ID]; ok && local.IsLoaded {
			local.Name = c.Name
			local.FolderID = c.FolderID
			next[c.ID] = local
			continue
		}
		c.Messages = []*models.Message{}
		c.AttachedFiles = []*models.AttachedFile{}
		c.UploadingFiles = []*models.UploadedFile{}
		c.IsLoaded = false
		next[c.ID] = c
	}
	s.chats = next
	if _, ok := s.chats[s.active]; !ok {
		s.active = ""
	}
	return nil
}

// Chat returns a copy of the chat.
func (s *ChatStore) Chat(id string) (*models.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// List returns copies of every chat, most recently updated first.
func (s *ChatStore) List() []*models.Chat {
	s.mu.RLock()
	out := make([]*models.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *ChatStore) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveChat marks the chat active and hydrates it once. Concurrent
// callers for the same chat share one fetch.
func (s *ChatStore) SetActiveChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrChatNotFound
	}
	s.active = id
	loaded := c.IsLoaded
	s.mu.Unlock()

	if !loaded {
		_, err, _ := s.loads.Do(id, func() (interface{}, error) {
			return nil, s.hydrate(ctx, id)
		})
		if err != nil {
			return nil, err
		}
	}
	chat, ok := s.Chat(id)
	if !ok {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *ChatStore) hydrate(ctx context.Context, id string) error {
	s.mu.RLock()
	c, ok := s.chats[id]
	done := ok && c.IsLoaded
	s.mu.RUnlock()
	if !ok {
		return ErrChatNotFound
	}
	if done {
		return nil
	}

	messages, err := s.db.ListMessages(ctx, s.userID, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	files, err := s.db.ListAttachedFiles(ctx, s.userID, id)
	if err != nil {
		return fmt.Errorf("load attached files: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok = s.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	// keep messages added locally while the fetch was in flight
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		seen[m.ID] = struct{}{}
	}
	for _, m := range c.Messages {
		if _, dup := seen[m.ID]; !dup {
			messages = append(messages, m)
		}
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	if files == nil {
		files = []*models.AttachedFile{}
	}
	c.Messages = messages
	c.AttachedFiles = files
	c.IsLoaded = true
	return nil
}

// AddMessage appends locally, then persists unless the message is a
// transient thinking placeholder. A persistence error leaves the local copy.
func (s *ChatStore) AddMessage(ctx context.Context, chatID string, msg *models.Message, isThinking bool) (*models.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("add message: nil message")
	}
	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if isThinking {
		m.Type = models.MessageThinking
	}
	now := s.now()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	s.mu.Lock()
	c, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrChatNotFound
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = now
	s.mu.Unlock()

	out := m.Clone()
	if isThinking || m.Type == models.MessageThinking {
		return out, nil
	}
	if err := s.db.AddMessage(ctx, s.userID, chatID, m.Clone()); err != nil {
		return out, fmt.Errorf("persist message: %w", err)
	}
	return out, nil
}

// EditMessage appends to a thinking message, or replaces and writes through
// the content of a persisted one.
func (s *ChatStore) EditMessage(ctx context.Context, chatID, messageID, content string, isThinking bool) error {
	if isThinking {
		s.mu.Lock()
		defer s.mu.Unlock()
		m, err := s.findMessageLocked(chatID, messageID)
		if err != nil {
			return err
		}
		m.Content += content
		return nil
	}

	s.mu.RLock()
	_, err := s.findMessageLocked(chatID, messageID)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := s.db.UpdateMessage(ctx, s.userID, chatID, messageID, content); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, err := s.findMessageLocked(chatID, messageID); err == nil {
		m.Content = content
	}
	return nil
}

// DeleteMessage removes the message remotely, then locally. Thinking
// messages only ever lived here.
func (s *ChatStore) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	s.mu.RLock()
	m, err := s.findMessageLocked(chatID, messageID)
	transient := err == nil && m.Type == models.MessageThinking
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if !transient {
		if err := s.db.DeleteMessage(ctx, s.userID, chatID, messageID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		for i, m := range c.Messages {
			if m.ID == messageID {
				c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *ChatStore) findMessageLocked(chatID, messageID string) (*models.Message, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	for _, m := range c.Messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, ErrMessageNotFound
}

// UpdateChatData renames or moves a chat.
func (s *ChatStore) UpdateChatData(ctx context.Context, chatID string, update models.ChatUpdate) (*models.Chat, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		update.Name = &name
	}
	if !s.has(chatID) {
		return nil, ErrChatNotFound
	}
	if err := s.db.UpdateChat(ctx, s.userID, chatID, update); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.FolderID != nil {
		c.FolderID = *update.FolderID
	}
	c.UpdatedAt = s.now()
	return c.Clone(), nil
}

// DeleteChatData deletes the chat remotely, then drops it locally.
func (s *ChatStore) DeleteChatData(ctx context.Context, chatID string) error {
	if !s.has(chatID) {
		return ErrChatNotFound
	}
	if err := s.db.DeleteChat(ctx, s.userID, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	s.mu.Lock()
	delete(s.chats, chatID)
	if s.active == chatID {
		s.active = ""
	}
	s.mu.Unlock()
	return nil
}

// AttachFile links a completed upload to the chat.
func (s *ChatStore) AttachFile(ctx context.Context, chatID string, file *models.UploadedFile) error {
	if file == nil || !file.Attachable() {
		return ErrFileNotReady
	}
	s.mu.RLock()
	c, ok := s.chats[chatID]
	attached := ok && hasAttachment(c, file.ID)
	s.mu.RUnlock()
	if !ok {
		return ErrChatNotFound
	}
	if attached {
		return nil
	}
	af := file.AsAttached()
	if err := s.db.AttachFile(ctx, s.userID, chatID, &af); err != nil {
		return fmt.Errorf("attach file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok && !hasAttachment(c, af.ID) {
		c.AttachedFiles = append(c.AttachedFiles, &af)
	}
	return nil
}

func (s *ChatStore) RemoveAttachedFile(ctx context.Context, chatID, fileID string) error {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	attached := ok && hasAttachment(c, fileID)
	s.mu.RUnlock()
	if !ok {
		return ErrChatNotFound
	}
	if !attached {
		return ErrFileNotFound
	}
	if err := s.db.DetachFile(ctx, s.userID, chatID, fileID); err != nil {
		return fmt.Errorf("detach file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		c.AttachedFiles = withoutAttachment(c.AttachedFiles, fileID)
	}
	return nil
}

// RemoveFileFromAllChats drops the file from every chat's attachment list.
// It is local only: the file must already be gone remotely. It returns the
// ids of the chats that changed.
func (s *ChatStore) RemoveFileFromAllChats(fileID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for id, c := range s.chats {
		if hasAttachment(c, fileID) {
			c.AttachedFiles = withoutAttachment(c.AttachedFiles, fileID)
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

func hasAttachment(c *models.Chat, fileID string) bool {
	for _, f := range c.AttachedFiles {
		if f.ID == fileID {
			return true
		}
	}
	return false
}

func withoutAttachment(files []*models.AttachedFile, fileID string) []*models.AttachedFile {
	out := files[:0]
	for _, f := range files {
		if f.ID != fileID {
			out = append(out, f)
		}
	}
	return out
}

// AddUploadingFile starts tracking an upload in the chat.
func (s *ChatStore) AddUploadingFile(chatID string, file *models.UploadedFile) error {
	if file == nil || file.ID == "" {
		return fmt.Errorf("add uploading file: id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	cp := *file
	c.UploadingFiles = append(c.UploadingFiles, &cp)
	return nil
}

// UploadingFile returns a copy of a tracked upload.
func (s *ChatStore) UploadingFile(chatID, fileID string) (*models.UploadedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.uploadingLocked(chatID, fileID)
	if f == nil {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// UpdateUploadingFile applies fn to the tracked upload; false if it is gone.
func (s *ChatStore) UpdateUploadingFile(chatID, fileID string, fn func(*models.UploadedFile)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.uploadingLocked(chatID, fileID)
	if f == nil {
		return false
	}
	fn(f)
	return true
}

func (s *ChatStore) RemoveUploadingFile(chatID, fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false
	}
	for i, f := range c.UploadingFiles {
		if f.ID == fileID {
			c.UploadingFiles = append(c.UploadingFiles[:i], c.UploadingFiles[i+1:]...)
			return true
		}
	}
	return false
}

func (s *ChatStore) uploadingLocked(chatID, fileID string) *models.UploadedFile {
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	for _, f := range c.UploadingFiles {
		if f.ID == fileID {
			return f
		}
	}
	return nil
}

// ChatsInFolder lists the ids of the chats that point at the folder.
func (s *ChatStore) ChatsInFolder(folderID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, c := range s.chats {
		if c.FolderID == folderID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ClearFolder drops the local folder back-reference from every chat.
func (s *ChatStore) ClearFolder(folderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.FolderID == folderID {
			c.FolderID = ""
		}
	}
}

func (s *ChatStore) has(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[chatID]
	return ok
}
