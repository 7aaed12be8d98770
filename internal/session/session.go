package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ureka/internal/models"
)

const keyPrefix = "ureka-session:"

var (
	ErrNoSession  = errors.New("session not found")
	ErrKeyMissing = errors.New("key missing")
)

// Session is the authenticated identity shared by every client of a user.
type Session struct {
	ID                      string       `json:"id"`
	User                    *models.User `json:"user"`
	IsAuthenticated         bool         `json:"isAuthenticated"`
	IsFirebaseAuthenticated bool         `json:"isFirebaseAuthenticated"`
	Timestamp               time.Time    `json:"timestamp"`
	BackendCookie           string       `json:"backend_cookie,omitempty"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.User != nil {
		u := *s.User
		cp.User = &u
	}
	return &cp
}

// KV is the session backing store; Get returns ErrKeyMissing on a miss.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Broker fans session changes out to other gateway instances.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handler func([]byte)) error
}

// Event describes a session change. A nil Session means logout.
type Event struct {
	SID     string
	Session *Session
	Remote  bool
}

type Listener func(ctx context.Context, ev Event)

type envelope struct {
	Origin  string   `json:"origin"`
	SID     string   `json:"sid"`
	Session *Session `json:"session,omitempty"`
}

type relayKey struct{}

type Options struct {
	KV     KV
	Broker Broker
	TTL    time.Duration
	// Key encrypts backend cookies at rest; empty stores them as-is.
	Key string
	Now func() time.Time
}

// Manager loads, saves and synchronises sessions.
type Manager struct {
	kv     KV
	broker Broker
	ttl    time.Duration
	cipher *tokenCipher
	origin string
	now    func() time.Time

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func NewManager(opts Options) (*Manager, error) {
	if opts.KV == nil {
		return nil, errors.New("session kv required")
	}
	m := &Manager{
		kv:        opts.KV,
		broker:    opts.Broker,
		ttl:       opts.TTL,
		origin:    uuid.NewString(),
		now:       opts.Now,
		listeners: make(map[int]Listener),
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.Key != "" {
		c, err := newTokenCipher(opts.Key)
		if err != nil {
			return nil, err
		}
		m.cipher = c
	}
	return m, nil
}

// TTL reports how long a session stays valid after its timestamp.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Start relays session changes published by other instances to local listeners.
func (m *Manager) Start(ctx context.Context) error {
	if m.broker == nil {
		return nil
	}
	return m.broker.Subscribe(ctx, func(payload []byte) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Printf("session broadcast decode failed: %v", err)
			return
		}
		if env.Origin == m.origin {
			return
		}
		m.notify(context.WithValue(ctx, relayKey{}, true), Event{SID: env.SID, Session: env.Session, Remote: true})
	})
}

// Subscribe registers a listener and returns its cancel func.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Save stamps and stores the session, then broadcasts it.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	s.Timestamp = m.now().UTC()
	return m.store(ctx, s, m.ttl)
}

// Update stores changes to an existing session without restarting its TTL.
func (m *Manager) Update(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	if s.Timestamp.IsZero() {
		return m.Save(ctx, s)
	}
	left := m.ttl - m.now().Sub(s.Timestamp)
	if left <= 0 {
		return ErrNoSession
	}
	return m.store(ctx, s, left)
}

func (m *Manager) store(ctx context.Context, s *Session, ttl time.Duration) error {
	stored := s.clone()
	if m.cipher != nil && stored.BackendCookie != "" {
		enc, err := m.cipher.Encrypt(stored.BackendCookie)
		if err != nil {
			return err
		}
		stored.BackendCookie = enc
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.kv.Set(ctx, keyPrefix+s.ID, string(data), ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	m.broadcast(ctx, s.ID, s.clone())
	return nil
}

// Load returns the stored session. Sessions older than the TTL are cleared
// and reported as ErrNoSession.
func (m *Manager) Load(ctx context.Context, sid string) (*Session, error) {
	if sid == "" {
		return nil, ErrNoSession
	}
	raw, err := m.kv.Get(ctx, keyPrefix+sid)
	if err != nil {
		if errors.Is(err, ErrKeyMissing) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		_ = m.Clear(ctx, sid)
		return nil, ErrNoSession
	}
	if m.now().Sub(s.Timestamp) > m.ttl {
		if err := m.Clear(ctx, sid); err != nil {
			log.Printf("clear expired session failed: %v", err)
		}
		return nil, ErrNoSession
	}
	if m.cipher != nil && s.BackendCookie != "" {
		plain, err := m.cipher.Decrypt(s.BackendCookie)
		if err != nil {
			return nil, err
		}
		s.BackendCookie = plain
	}
	return &s, nil
}

// Clear deletes the session and broadcasts the logout.
func (m *Manager) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if err := m.kv.Del(ctx, keyPrefix+sid); err != nil && !errors.Is(err, ErrKeyMissing) {
		return fmt.Errorf("clear session: %w", err)
	}
	m.broadcast(ctx, sid, nil)
	return nil
}

func (m *Manager) broadcast(ctx context.Context, sid string, s *Session) {
	m.notify(ctx, Event{SID: sid, Session: s})
	// a save made while relaying a remote change must not bounce back out
	if relaying, _ := ctx.Value(relayKey{}).(bool); relaying || m.broker == nil {
		return
	}
	env := envelope{Origin: m.origin, SID: sid, Session: s.clone()}
	if env.Session != nil {
		env.Session.BackendCookie = ""
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("session broadcast marshal failed: %v", err)
		return
	}
	if err := m.broker.Publish(ctx, payload); err != nil {
		log.Printf("session broadcast publish failed: %v", err)
	}
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}
}
