package upload

import (
	"context"
	"fmt"
	"log"
	"time"

	"ureka/internal/events"
	"ureka/internal/models"
)

// poll checks the upload status every interval until it settles, the
// tracker disappears, or too many checks in a row fail.
func (s *Service) poll(ctx context.Context, chatID, fileID string) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		file, ok := s.chats.UploadingFile(chatID, fileID)
		if !ok {
			return
		}
		status, err := s.backend.UploadStatus(ctx, file.UploadID, file.Extension)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Printf("upload status %s (%d/%d): %v", file.UploadID, failures, s.opts.MaxFailures, err)
			if failures >= s.opts.MaxFailures {
				s.fail(ctx, chatID, file, fmt.Sprintf("Could not check the status of %s: %v", file.Name, err))
				return
			}
			continue
		}
		failures = 0

		if !status.Terminal() {
			s.chats.UpdateUploadingFile(chatID, fileID, func(f *models.UploadedFile) {
				f.Status = status
			})
			continue
		}
		if status == models.StatusFailed {
			s.fail(ctx, chatID, file, fmt.Sprintf("Processing failed for %s", file.Name))
		} else {
			s.complete(ctx, chatID, file)
		}
		return
	}
}

// complete shows the finished upload for the display delay, then promotes it
// into the file store and out of the chat's uploading list.
func (s *Service) complete(ctx context.Context, chatID string, file *models.UploadedFile) {
	s.chats.UpdateUploadingFile(chatID, file.ID, func(f *models.UploadedFile) {
		f.Status = models.StatusCompleted
	})
	if s.opts.DisplayDelay > 0 {
		timer := time.NewTimer(s.opts.DisplayDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	current, ok := s.chats.UploadingFile(chatID, file.ID)
	if !ok {
		return
	}
	current.Status = models.StatusCompleted

	if err := s.files.Add(ctx, current); err != nil {
		s.fail(ctx, chatID, current, fmt.Sprintf("Could not save %s: %v", current.Name, err))
		return
	}
	if s.opts.AutoAttach {
		if err := s.chats.AttachFile(ctx, chatID, current); err != nil {
			log.Printf("auto-attach %s to chat %s: %v", current.ID, chatID, err)
		}
	}
	s.chats.RemoveUploadingFile(chatID, file.ID)
	s.systemMessage(ctx, chatID, fmt.Sprintf("File %s uploaded successfully", current.Name), false)
	events.Emit(ctx, s.opts.Publisher, current.ID, events.NewEvent(events.FileUploadCompleted, "upload", map[string]interface{}{
		"file_id":   current.ID,
		"chat_id":   chatID,
		"upload_id": current.UploadID,
		"attached":  s.opts.AutoAttach,
	}))
}
