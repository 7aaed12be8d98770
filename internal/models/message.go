package models

import (
	"encoding/json"
	"time"
)

// MessageType tags who produced a chat message.
type MessageType string

const (
	MessageUser     MessageType = "user"
	MessageAI       MessageType = "ai"
	MessageSystem   MessageType = "system"
	MessageThinking MessageType = "thinking"
)

// Message is a single entry in a chat history. Thinking messages are
// transient placeholders and are never persisted.
type Message struct {
	ID           string          `json:"id"`
	Type         MessageType     `json:"type"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	Attachments  []AttachedFile  `json:"attachments,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	AnalysisData json.RawMessage `json:"analysis_data,omitempty"`
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = append([]AttachedFile(nil), m.Attachments...)
	}
	if m.AnalysisData != nil {
		cp.AnalysisData = append(json.RawMessage(nil), m.AnalysisData...)
	}
	return &cp
}
