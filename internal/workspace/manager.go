package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"ureka/internal/backend"
	"ureka/internal/events"
	"ureka/internal/query"
	"ureka/internal/session"
	"ureka/internal/store"
	"ureka/internal/upload"
)

// Workspace is everything one signed-in user works with.
type Workspace struct {
	UserID  string
	Client  *backend.UserClient
	Chats   *store.ChatStore
	Files   *store.FileStore
	Folders *store.FolderStore
	Uploads *upload.Service
	Queries *query.Handler
}

func (w *Workspace) load(ctx context.Context) error {
	if err := w.Chats.LoadChats(ctx); err != nil {
		return err
	}
	if err := w.Files.Load(ctx); err != nil {
		return err
	}
	return w.Folders.Load(ctx)
}

// SessionStore keeps refreshed backend cookies with the sessions that own them.
type SessionStore interface {
	Load(ctx context.Context, sid string) (*session.Session, error)
	Update(ctx context.Context, s *session.Session) error
}

type Options struct {
	Docs      store.Persistence
	Backend   *backend.Client
	WSURL     string
	Upload    upload.Options
	Publisher events.Publisher
	Sessions  SessionStore
}

// Manager creates workspaces lazily and tears them down on logout.
type Manager struct {
	opts  Options
	group singleflight.Group

	mu       sync.Mutex
	spaces   map[string]*Workspace
	sessions map[string]string
}

func NewManager(opts Options) *Manager {
	if opts.Publisher != nil && opts.Upload.Publisher == nil {
		opts.Upload.Publisher = opts.Publisher
	}
	return &Manager{
		opts:     opts,
		spaces:   make(map[string]*Workspace),
		sessions: make(map[string]string),
	}
}

// Get returns the session user's workspace, creating and hydrating it on
// first use. The backend cookie is refreshed when it changed.
func (m *Manager) Get(ctx context.Context, sess *session.Session) (*Workspace, error) {
	if sess == nil || sess.User == nil || sess.User.ID == "" {
		return nil, errors.New("user id required")
	}
	userID, cookie := sess.User.ID, sess.BackendCookie
	if sess.ID != "" {
		m.mu.Lock()
		m.sessions[sess.ID] = userID
		m.mu.Unlock()
	}
	if ws, ok := m.Peek(userID); ok {
		if cookie != "" && ws.Client.Cookie() != cookie {
			ws.Client.SetCookie(cookie)
		}
		return ws, nil
	}
	v, err, _ := m.group.Do(userID, func() (interface{}, error) {
		if ws, ok := m.Peek(userID); ok {
			return ws, nil
		}
		ws := m.build(userID, cookie)
		if err := ws.load(ctx); err != nil {
			ws.Uploads.Close()
			return nil, fmt.Errorf("hydrate workspace: %w", err)
		}
		m.mu.Lock()
		m.spaces[userID] = ws
		m.mu.Unlock()
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (m *Manager) build(userID, cookie string) *Workspace {
	client := m.opts.Backend.Bind(cookie)
	// persisted off the calling goroutine: an expired session found on the way
	// resets the workspace, which waits for the pollers that made the call
	client.OnCookieChange(func(ctx context.Context, _ string) {
		go m.persistCookie(context.WithoutCancel(ctx), userID, client)
	})
	chats := store.NewChatStore(userID, m.opts.Docs)
	files := store.NewFileStore(userID, m.opts.Docs)
	return &Workspace{
		UserID:  userID,
		Client:  client,
		Chats:   chats,
		Files:   files,
		Folders: store.NewFolderStore(userID, m.opts.Docs, chats),
		Uploads: upload.NewService(chats, files, client, m.opts.Upload),
		Queries: query.NewHandler(chats, client, m.opts.WSURL, query.Options{Publisher: m.opts.Publisher}),
	}
}

// persistCookie writes the client's current cookie into every live session of
// the user, so a rebuilt workspace does not replay a stale one.
func (m *Manager) persistCookie(ctx context.Context, userID string, client *backend.UserClient) {
	if m.opts.Sessions == nil {
		return
	}
	m.mu.Lock()
	var sids []string
	for sid, uid := range m.sessions {
		if uid == userID {
			sids = append(sids, sid)
		}
	}
	m.mu.Unlock()
	for _, sid := range sids {
		sess, err := m.opts.Sessions.Load(ctx, sid)
		if err != nil {
			if !errors.Is(err, session.ErrNoSession) {
				log.Printf("load session for cookie refresh: %v", err)
			}
			continue
		}
		cookie := client.Cookie()
		if sess.BackendCookie == cookie {
			continue
		}
		sess.BackendCookie = cookie
		if err := m.opts.Sessions.Update(ctx, sess); err != nil {
			log.Printf("persist refreshed backend cookie for user %s: %v", userID, err)
		}
	}
}

func (m *Manager) Peek(userID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.spaces[userID]
	return ws, ok
}

// Reset drops the workspace and stops its pollers.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	ws, ok := m.spaces[userID]
	delete(m.spaces, userID)
	for sid, uid := range m.sessions {
		if uid == userID {
			delete(m.sessions, sid)
		}
	}
	m.mu.Unlock()
	if ok {
		ws.Uploads.Close()
		log.Printf("workspace for user %s stopped", userID)
	}
}

// OnSession keeps workspaces in step with session changes from any
// instance: the last logout of a user tears the workspace down.
func (m *Manager) OnSession(_ context.Context, ev session.Event) {
	if ev.Session != nil {
		if ev.Session.User != nil {
			m.mu.Lock()
			m.sessions[ev.SID] = ev.Session.User.ID
			m.mu.Unlock()
		}
		return
	}
	m.mu.Lock()
	userID, ok := m.sessions[ev.SID]
	delete(m.sessions, ev.SID)
	remaining := false
	for _, uid := range m.sessions {
		if uid == userID {
			remaining = true
			break
		}
	}
	m.mu.Unlock()
	if ok && !remaining {
		m.Reset(userID)
	}
}

// Close stops every workspace.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.spaces))
	for id := range m.spaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Reset(id)
	}
}
