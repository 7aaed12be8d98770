package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ureka/internal/backend"
	"ureka/internal/events"
	"ureka/internal/models"
	"ureka/internal/store"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultDisplayDelay = 2 * time.Second
	DefaultMaxFailures  = 5
	DefaultMaxBytes     = 10 << 20
)

var (
	ErrInvalidFile  = errors.New("invalid file")
	ErrFileTooLarge = errors.New("file exceeds upload limit")
	ErrNotTracked   = errors.New("upload not tracked")
)

// DefaultExtensions are the formats the analytics backend ingests.
var DefaultExtensions = []string{"csv", "tsv", "xlsx", "xls", "json", "txt", "pdf", "parquet"}

// Backend is the slice of the remote API the upload flow needs.
type Backend interface {
	UploadFile(ctx context.Context, name string, content io.Reader) (*backend.UploadResult, error)
	UploadStatus(ctx context.Context, uploadID, extension string) (models.FileStatus, error)
	RemoveUpload(ctx context.Context, uploadID, extension string) error
}

type Options struct {
	PollInterval time.Duration
	DisplayDelay time.Duration
	MaxFailures  int
	// AutoAttach links a finished upload to the chat it was started from.
	AutoAttach bool
	MaxBytes   int64
	Extensions []string
	Publisher  events.Publisher
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DisplayDelay < 0 {
		o.DisplayDelay = 0
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.Publisher == nil {
		o.Publisher = events.LogPublisher{}
	}
}

// Service uploads files for one user and watches them until they settle.
type Service struct {
	chats   *store.ChatStore
	files   *store.FileStore
	backend Backend
	opts    Options
	allowed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

func NewService(chats *store.ChatStore, files *store.FileStore, be Backend, opts Options) *Service {
	opts.defaults()
	allowed := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		chats:   chats,
		files:   files,
		backend: be,
		opts:    opts,
		allowed: allowed,
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[string]context.CancelFunc),
	}
}

// Validate rejects a file before any network call.
func (s *Service) Validate(name string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFile)
	}
	if size <= 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidFile, name)
	}
	if size > s.opts.MaxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, name, size, s.opts.MaxBytes)
	}
	ext := backend.Extension(name)
	if _, ok := s.allowed[ext]; !ok {
		return fmt.Errorf("%w: unsupported extension %q", ErrInvalidFile, ext)
	}
	return nil
}

// Upload tracks the file in the chat, sends it to the backend and starts
// polling its status. The returned copy is in processing state.
func (s *Service) Upload(ctx context.Context, chatID, name, mimeType string, size int64, content io.Reader) (*models.UploadedFile, error) {
	if err := s.Validate(name, size); err != nil {
		return nil, err
	}
	file := &models.UploadedFile{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      size,
		Type:      mimeType,
		Extension: backend.Extension(name),
		Status:    models.StatusUploading,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.chats.AddUploadingFile(chatID, file); err != nil {
		return nil, err
	}
	events.Emit(ctx, s.opts.Publisher, file.ID, events.NewEvent(events.FileUploadStarted, "upload", map[string]interface{}{
		"file_id": file.ID,
		"chat_id": chatID,
		"name":    name,
		"size":    size,
	}))

	res, err := s.backend.UploadFile(ctx, name, io.LimitReader(content, s.opts.MaxBytes+1))
	if err != nil {
		s.fail(ctx, chatID, file, fmt.Sprintf("Failed to upload %s: %v", name, err))
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	s.chats.UpdateUploadingFile(chatID, file.ID, func(f *models.UploadedFile) {
		f.UploadID = res.UploadID
		if res.Extension != "" {
			f.Extension = res.Extension
		}
		f.Progress = 100
		f.Status = models.StatusProcessing
	})
	out, ok := s.chats.UploadingFile(chatID, file.ID)
	if !ok {
		// removed while the bytes were in flight; the backend copy is orphaned
		ext := res.Extension
		if ext == "" {
			ext = file.Extension
		}
		if err := s.backend.RemoveUpload(context.WithoutCancel(ctx), res.UploadID, ext); err != nil {
			log.Printf("remove orphaned upload %s: %v", res.UploadID, err)
		}
		return nil, ErrNotTracked
	}
	s.Watch(chatID, file.ID)
	return out, nil
}

// Watch starts the status poller for a tracked upload.
func (s *Service) Watch(chatID, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.watches[fileID]; running || s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.watches[fileID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(fileID)
		s.poll(ctx, chatID, fileID)
	}()
}

// Cancel stops the poller of one upload.
func (s *Service) Cancel(fileID string) bool {
	s.mu.Lock()
	cancel, ok := s.watches[fileID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Watching reports whether a poller is running for the file.
func (s *Service) Watching(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[fileID]
	return ok
}

func (s *Service) forget(fileID string) {
	s.mu.Lock()
	if cancel, ok := s.watches[fileID]; ok {
		cancel()
		delete(s.watches, fileID)
	}
	s.mu.Unlock()
}

// Close cancels every poller and waits for them to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Status proxies a status check.
func (s *Service) Status(ctx context.Context, uploadID, extension string) (models.FileStatus, error) {
	return s.backend.UploadStatus(ctx, uploadID, extension)
}

// RemoveUploading drops an in-flight upload; its poller exits on the next tick.
func (s *Service) RemoveUploading(ctx context.Context, chatID, fileID string) error {
	f, ok := s.chats.UploadingFile(chatID, fileID)
	if !ok {
		return ErrNotTracked
	}
	s.chats.RemoveUploadingFile(chatID, fileID)
	s.Cancel(fileID)
	if f.UploadID == "" {
		return nil
	}
	if err := s.backend.RemoveUpload(ctx, f.UploadID, f.Extension); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// RemoveFile deletes a processed file from the backend and the file store,
// then drops it from every chat.
func (s *Service) RemoveFile(ctx context.Context, fileID string) error {
	f, ok := s.files.Get(fileID)
	if !ok {
		return store.ErrFileNotFound
	}
	if f.UploadID != "" {
		if err := s.backend.RemoveUpload(ctx, f.UploadID, f.Extension); err != nil {
			return fmt.Errorf("remove upload: %w", err)
		}
	}
	if err := s.files.Remove(ctx, fileID); err != nil {
		return err
	}
	s.chats.RemoveFileFromAllChats(fileID)
	events.Emit(ctx, s.opts.Publisher, fileID, events.NewEvent(events.FileDeleted, "upload", map[string]interface{}{
		"file_id":   fileID,
		"upload_id": f.UploadID,
	}))
	return nil
}

func (s *Service) systemMessage(ctx context.Context, chatID, content string, isError bool) {
	msg := &models.Message{Type: models.MessageSystem, Content: content, IsError: isError}
	if _, err := s.chats.AddMessage(ctx, chatID, msg, false); err != nil {
		log.Printf("upload system message for chat %s: %v", chatID, err)
	}
}

// fail marks the tracked upload failed and reports it in the chat. The
// tracker stays so the failure remains visible until removed.
func (s *Service) fail(ctx context.Context, chatID string, file *models.UploadedFile, reason string) {
	s.chats.UpdateUploadingFile(chatID, file.ID, func(f *models.UploadedFile) {
		f.Status = models.StatusFailed
	})
	s.systemMessage(ctx, chatID, reason, true)
	events.Emit(ctx, s.opts.Publisher, file.ID, events.NewEvent(events.FileUploadFailed, "upload", map[string]interface{}{
		"file_id":   file.ID,
		"chat_id":   chatID,
		"upload_id": file.UploadID,
		"reason":    reason,
	}))
}
