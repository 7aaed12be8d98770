package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ureka/internal/models"
)

// ListMessages returns a chat's persisted messages in timestamp order.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]*models.Message, error) {
	rows, err := s.query(ctx,
		`SELECT id, type, content, is_error, attachments, analysis_data, created_at FROM messages
		 WHERE chat_id = ? AND user_id = ? ORDER BY created_at ASC`,
		chatID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		var attachments, analysis sql.NullString
		if err := rows.Scan(&m.ID, &m.Type, &m.Content, &m.IsError, &attachments, &analysis, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
			}
		}
		if analysis.Valid && analysis.String != "" {
			m.AnalysisData = json.RawMessage(analysis.String)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AddMessage stores a message and touches the chat's updated_at.
func (s *Service) AddMessage(ctx context.Context, userID, chatID string, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message id is required")
	}
	if msg.Type == models.MessageThinking {
		return errors.New("thinking messages are not persisted")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	var attachments sql.NullString
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		attachments = nullString(string(data))
	}
	_, err := s.exec(ctx,
		`INSERT INTO messages (id, user_id, chat_id, type, content, is_error, attachments, analysis_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, userID, chatID, msg.Type, msg.Content, msg.IsError, attachments, nullString(string(msg.AnalysisData)), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return s.TouchChat(ctx, userID, chatID, msg.Timestamp)
}

// UpdateMessage replaces the content of a persisted message.
func (s *Service) UpdateMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	res, err := s.exec(ctx,
		`UPDATE messages SET content = ? WHERE id = ? AND chat_id = ? AND user_id = ?`,
		content, messageID, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return affectedOrNotFound(res, "message")
}

// DeleteMessage removes a persisted message.
func (s *Service) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	res, err := s.exec(ctx,
		`DELETE FROM messages WHERE id = ? AND chat_id = ? AND user_id = ?`,
		messageID, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return affectedOrNotFound(res, "message")
}
