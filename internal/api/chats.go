package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ureka/internal/models"
	"ureka/internal/query"
	"ureka/internal/store"
)

type createChatRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FolderID string `json:"folder_id"`
}

type messageRequest struct {
	Type        models.MessageType    `json:"type"`
	Content     string                `json:"content"`
	IsError     bool                  `json:"is_error"`
	IsThinking  bool                  `json:"is_thinking"`
	Attachments []models.AttachedFile `json:"attachments"`
}

type editMessageRequest struct {
	Content    string `json:"content"`
	IsThinking bool   `json:"is_thinking"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type attachRequest struct {
	FileID string `json:"file_id"`
}

func (h *Handler) listChats(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":       ws.Chats.List(),
		"active_chat": ws.Chats.ActiveChat(),
	})
}

func (h *Handler) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if req.FolderID != "" {
		if _, ok := ws.Folders.Get(req.FolderID); !ok {
			h.respondError(c, store.ErrFolderNotFound)
			return
		}
	}
	chat, err := ws.Chats.CreateChat(c.Request.Context(), req.ID, req.Name, req.FolderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

func (h *Handler) getChat(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	chat, ok := ws.Chats.Chat(c.Param("chat_id"))
	if !ok {
		h.respondError(c, store.ErrChatNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) updateChat(c *gin.Context) {
	var req models.ChatUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if req.FolderID != nil && *req.FolderID != "" {
		if _, ok := ws.Folders.Get(*req.FolderID); !ok {
			h.respondError(c, store.ErrFolderNotFound)
			return
		}
	}
	chat, err := ws.Chats.UpdateChatData(c.Request.Context(), c.Param("chat_id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// deleteChat removes the chat and stops the pollers of its uploads.
func (h *Handler) deleteChat(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")
	chat, ok := ws.Chats.Chat(chatID)
	if !ok {
		h.respondError(c, store.ErrChatNotFound)
		return
	}
	if err := ws.Chats.DeleteChatData(c.Request.Context(), chatID); err != nil {
		h.respondError(c, err)
		return
	}
	for _, f := range chat.UploadingFiles {
		ws.Uploads.Cancel(f.ID)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) activateChat(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	chat, err := ws.Chats.SetActiveChat(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) addMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Type == "" {
		req.Type = models.MessageUser
	}
	switch req.Type {
	case models.MessageUser, models.MessageAI, models.MessageSystem, models.MessageThinking:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported message type"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	msg := &models.Message{
		Type:        req.Type,
		Content:     req.Content,
		IsError:     req.IsError,
		Attachments: req.Attachments,
	}
	thinking := req.IsThinking || req.Type == models.MessageThinking
	added, err := ws.Chats.AddMessage(c.Request.Context(), c.Param("chat_id"), msg, thinking)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": added})
}

func (h *Handler) editMessage(c *gin.Context) {
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Chats.EditMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"), req.Content, req.IsThinking); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Chats.DeleteMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// queryChat streams every chat mutation of the query as server-sent events
// and closes with a done event carrying the result.
func (h *Handler) queryChat(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.respondError(c, query.ErrEmptyQuery)
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")
	if _, ok := ws.Chats.Chat(chatID); !ok {
		h.respondError(c, store.ErrChatNotFound)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	res, err := ws.Queries.Send(c.Request.Context(), chatID, req.Query, func(m query.Mutation) {
		_ = sendEvent(string(m.Kind), m)
	})
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	_ = sendEvent("done", res)
}

func (h *Handler) attachFile(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_id is required"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	file, ok := ws.Files.Get(req.FileID)
	if !ok {
		h.respondError(c, store.ErrFileNotFound)
		return
	}
	chatID := c.Param("chat_id")
	if err := ws.Chats.AttachFile(c.Request.Context(), chatID, file); err != nil {
		h.respondError(c, err)
		return
	}
	chat, _ := ws.Chats.Chat(chatID)
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) detachFile(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Chats.RemoveAttachedFile(c.Request.Context(), c.Param("chat_id"), c.Param("file_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
