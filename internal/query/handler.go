package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ureka/internal/backend"
	"ureka/internal/events"
	"ureka/internal/models"
	"ureka/internal/store"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "ws_connecting"
	StateStreaming    State = "ws_streaming"
	StateRestFallback State = "rest_fallback"
	StateFinal        State = "final"
	StateError        State = "error"
)

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportREST      Transport = "rest"
)

// Frame types sent by the backend.
const (
	FrameThinking    = "thinking"
	FrameGeneral     = "general"
	FrameUnsupported = "unsupported"
	FrameFinal       = "final"
	FrameError       = "error"
	FrameAnalysis    = "analysis"
)

const fallbackErrorText = "Sorry, something went wrong while processing your request. Please try again."

var ErrEmptyQuery = errors.New("query text is required")

// Backend answers a query over REST and supplies the cookie for the socket.
type Backend interface {
	Query(ctx context.Context, text string) (*backend.Answer, error)
	Cookie() string
}

// MutationKind names a change made to the chat while a query runs.
type MutationKind string

const (
	MutationAdd    MutationKind = "message"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

type Mutation struct {
	Kind      MutationKind    `json:"kind"`
	ChatID    string          `json:"chat_id"`
	MessageID string          `json:"message_id"`
	Message   *models.Message `json:"message,omitempty"`
}

// Observer sees every chat mutation a query makes, in order.
type Observer func(Mutation)

// Result summarises one query.
type Result struct {
	Transport Transport       `json:"transport"`
	State     State           `json:"state"`
	FellBack  bool            `json:"fell_back"`
	Message   *models.Message `json:"message,omitempty"`
}

type Options struct {
	Dialer    *websocket.Dialer
	Publisher events.Publisher
}

// Handler runs chat queries: socket first, then at most one REST attempt.
// Queries on the same chat are not serialised.
type Handler struct {
	chats     *store.ChatStore
	backend   Backend
	wsURL     string
	dialer    *websocket.Dialer
	publisher events.Publisher
}

func NewHandler(chats *store.ChatStore, be Backend, wsURL string, opts Options) *Handler {
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	return &Handler{
		chats:     chats,
		backend:   be,
		wsURL:     wsURL,
		dialer:    dialer,
		publisher: opts.Publisher,
	}
}

type frame struct {
	Type         string          `json:"type"`
	Content      string          `json:"content"`
	AnalysisData json.RawMessage `json:"analysis_data,omitempty"`
}

// run is the state of one in-flight query.
type run struct {
	h       *Handler
	ctx     context.Context
	chatID  string
	text    string
	observe Observer
	state   State

	placeholder string
	thinking    string
	last        *models.Message
}

// Send adds the user message and streams the answer into the chat.
func (h *Handler) Send(ctx context.Context, chatID, text string, observe Observer) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if _, ok := h.chats.Chat(chatID); !ok {
		return nil, store.ErrChatNotFound
	}
	if observe == nil {
		observe = func(Mutation) {}
	}
	r := &run{h: h, ctx: ctx, chatID: chatID, text: text, observe: observe, state: StateIdle}

	r.add(&models.Message{Type: models.MessageUser, Content: text})
	if err := r.addPlaceholder(); err != nil {
		return nil, err
	}

	res, err := r.stream()
	if err != nil && ctx.Err() != nil {
		r.dropPlaceholder()
		return nil, ctx.Err()
	}
	if err != nil {
		debugLog("query socket failed for chat %s: %v", chatID, err)
		events.Emit(ctx, h.publisher, chatID, events.NewEvent(events.ChatQueryFallback, "query", map[string]interface{}{
			"chat_id": chatID,
			"reason":  err.Error(),
		}))
		res = r.tryRest()
	}
	events.Emit(ctx, h.publisher, chatID, events.NewEvent(events.ChatQueryCompleted, "query", map[string]interface{}{
		"chat_id":   chatID,
		"transport": string(res.Transport),
		"state":     string(res.State),
	}))
	return res, nil
}

func (r *run) setState(s State) {
	debugLog("query chat %s: %s -> %s", r.chatID, r.state, s)
	r.state = s
}

func (r *run) add(msg *models.Message) *models.Message {
	out, err := r.h.chats.AddMessage(r.ctx, r.chatID, msg, msg.Type == models.MessageThinking)
	if out == nil {
		log.Printf("query add message to chat %s: %v", r.chatID, err)
		return nil
	}
	if err != nil {
		log.Printf("query persist message to chat %s: %v", r.chatID, err)
	}
	r.observe(Mutation{Kind: MutationAdd, ChatID: r.chatID, MessageID: out.ID, Message: out})
	return out
}

func (r *run) addPlaceholder() error {
	out := r.add(&models.Message{Type: models.MessageThinking})
	if out == nil {
		return store.ErrChatNotFound
	}
	r.placeholder = out.ID
	r.thinking = ""
	return nil
}

func (r *run) dropPlaceholder() {
	if r.placeholder == "" {
		return
	}
	id := r.placeholder
	r.placeholder = ""
	r.thinking = ""
	if err := r.h.chats.DeleteMessage(r.ctx, r.chatID, id); err != nil {
		debugLog("query drop placeholder %s: %v", id, err)
		return
	}
	r.observe(Mutation{Kind: MutationDelete, ChatID: r.chatID, MessageID: id})
}

func (r *run) appendThinking(content string) {
	if r.placeholder == "" {
		if err := r.addPlaceholder(); err != nil {
			return
		}
	}
	if err := r.h.chats.EditMessage(r.ctx, r.chatID, r.placeholder, content, true); err != nil {
		debugLog("query append thinking %s: %v", r.placeholder, err)
		return
	}
	r.thinking += content
	r.observe(Mutation{
		Kind:      MutationUpdate,
		ChatID:    r.chatID,
		MessageID: r.placeholder,
		Message:   &models.Message{ID: r.placeholder, Type: models.MessageThinking, Content: r.thinking},
	})
}

// finalize swaps the placeholder for a finished message.
func (r *run) finalize(content string, analysis json.RawMessage, isError bool) {
	r.dropPlaceholder()
	msg := &models.Message{Type: models.MessageAI, Content: content, IsError: isError}
	if len(analysis) > 0 && string(analysis) != "null" {
		msg.AnalysisData = analysis
	}
	if out := r.add(msg); out != nil {
		r.last = out
	}
}

func (r *run) result(t Transport) *Result {
	return &Result{Transport: t, State: r.state, FellBack: t == TransportREST, Message: r.last}
}

// stream runs the socket leg. A nil error means a terminal frame or a clean
// close settled the query; any other error asks for the REST fallback.
func (r *run) stream() (*Result, error) {
	r.setState(StateConnecting)
	if r.h.wsURL == "" {
		return nil, errors.New("websocket endpoint not configured")
	}
	header := http.Header{}
	if cookie := r.h.backend.Cookie(); cookie != "" {
		header.Set("Cookie", cookie)
	}
	conn, _, err := r.h.dialer.DialContext(r.ctx, r.h.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"userQuery": r.text}); err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}
	r.setState(StateStreaming)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if r.last != nil {
					r.dropPlaceholder()
					r.setState(StateFinal)
					return r.result(TransportWebSocket), nil
				}
				// closed by the backend without an answer
				r.setState(StateError)
				r.finalize(fallbackErrorText, nil, true)
				return r.result(TransportWebSocket), nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			debugLog("query skip malformed frame: %v", err)
			continue
		}
		debugLog("query frame %s (%d bytes)", f.Type, len(f.Content))

		switch f.Type {
		case FrameThinking:
			r.appendThinking(f.Content)
		case FrameFinal:
			r.setState(StateFinal)
			r.finalize(f.Content, f.AnalysisData, false)
			closeSocket(conn)
			return r.result(TransportWebSocket), nil
		case FrameError:
			r.setState(StateError)
			r.finalize(frameErrorText(f.Content), nil, true)
			closeSocket(conn)
			return r.result(TransportWebSocket), nil
		default:
			// general, unsupported, analysis and unknown tags all finish
			// a message without ending the stream
			r.finalize(f.Content, f.AnalysisData, false)
		}
	}
}

// tryRest is the single fallback attempt with its own placeholder.
func (r *run) tryRest() *Result {
	r.dropPlaceholder()
	r.setState(StateRestFallback)
	if err := r.addPlaceholder(); err != nil {
		r.setState(StateError)
		return r.result(TransportREST)
	}
	ans, err := r.h.backend.Query(r.ctx, r.text)
	switch {
	case err != nil:
		log.Printf("query rest fallback for chat %s: %v", r.chatID, err)
		r.setState(StateError)
		r.finalize(fallbackErrorText, nil, true)
	case ans.Type == FrameError:
		r.setState(StateError)
		r.finalize(frameErrorText(ans.Content), nil, true)
	default:
		r.setState(StateFinal)
		r.finalize(ans.Content, ans.AnalysisData, false)
	}
	return r.result(TransportREST)
}

func frameErrorText(content string) string {
	if strings.TrimSpace(content) == "" {
		return fallbackErrorText
	}
	return content
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
