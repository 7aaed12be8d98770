package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ureka/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSession(id string) *Session {
	return &Session{
		ID:              id,
		User:            &models.User{ID: "u1", Email: "ana@example.com", Name: "Ana"},
		IsAuthenticated: true,
		BackendCookie:   "session=abc",
	}
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Options{KV: NewMemoryKV()})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if err := m.Save(ctx, newSession("s1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.User == nil || got.User.ID != "u1" || !got.IsAuthenticated {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be stamped")
	}
	if err := m.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if _, err := m.Load(ctx, "s1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
}

func TestLoadExpiredSessionClears(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	kv := NewMemoryKV()
	m, err := NewManager(Options{KV: kv, TTL: 24 * time.Hour, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if err := m.Save(ctx, newSession("s1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	var logouts int
	m.Subscribe(func(_ context.Context, ev Event) {
		if ev.Session == nil && ev.SID == "s1" {
			logouts++
		}
	})

	clk.Advance(25 * time.Hour)
	if _, err := m.Load(ctx, "s1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected expired session to be absent, got %v", err)
	}
	if logouts != 1 {
		t.Fatalf("expected one logout broadcast, got %d", logouts)
	}
	if _, err := kv.Get(ctx, keyPrefix+"s1"); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected key removed, got %v", err)
	}
}

func TestUpdateKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m, err := NewManager(Options{KV: NewMemoryKV(), TTL: 24 * time.Hour, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if err := m.Save(ctx, newSession("s1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	clk.Advance(20 * time.Hour)
	sess, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sess.User.Name = "Ana B"
	if err := m.Update(ctx, sess); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	clk.Advance(5 * time.Hour)
	if _, err := m.Load(ctx, "s1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected update not to extend the session, got %v", err)
	}
	if err := m.Update(ctx, sess); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected update of expired session to fail, got %v", err)
	}
}

func TestCrossInstanceSync(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	broker := NewMemoryBroker()
	a, err := NewManager(Options{KV: kv, Broker: broker})
	if err != nil {
		t.Fatalf("NewManager a: %v", err)
	}
	b, err := NewManager(Options{KV: kv, Broker: broker})
	if err != nil {
		t.Fatalf("NewManager b: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start b: %v", err)
	}

	var localA, remoteA, remoteB int
	var seen *Session
	a.Subscribe(func(_ context.Context, ev Event) {
		if ev.Remote {
			remoteA++
		} else {
			localA++
		}
	})
	b.Subscribe(func(ctx context.Context, ev Event) {
		if !ev.Remote {
			return
		}
		remoteB++
		seen = ev.Session
		// re-saving while relaying must not echo back to a
		if err := b.Save(ctx, ev.Session); err != nil {
			t.Errorf("relay save: %v", err)
		}
	})

	if err := a.Save(ctx, newSession("s1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if localA != 1 || remoteA != 0 {
		t.Fatalf("a events local=%d remote=%d", localA, remoteA)
	}
	if remoteB != 1 {
		t.Fatalf("expected b to receive one remote event, got %d", remoteB)
	}
	if seen == nil || seen.User == nil || seen.User.ID != "u1" {
		t.Fatalf("unexpected relayed session: %+v", seen)
	}
	if seen.BackendCookie != "" {
		t.Fatalf("backend cookie must not be broadcast")
	}
}

func TestBackendCookieEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	m, err := NewManager(Options{KV: kv, Key: key})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if err := m.Save(ctx, newSession("s1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	raw, err := kv.Get(ctx, keyPrefix+"s1")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if strings.Contains(raw, "session=abc") {
		t.Fatalf("cookie stored in plaintext: %s", raw)
	}
	got, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.BackendCookie != "session=abc" {
		t.Fatalf("cookie not decrypted: %q", got.BackendCookie)
	}
}

func TestNewManagerRejectsBadKey(t *testing.T) {
	if _, err := NewManager(Options{KV: NewMemoryKV(), Key: "short"}); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Options{KV: NewMemoryKV()})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	prefs, err := m.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences error: %v", err)
	}
	if prefs.Theme != ThemeLight || len(prefs.Pins) != 0 {
		t.Fatalf("unexpected defaults: %+v", prefs)
	}
	if err := m.SavePreferences(ctx, "u1", &Preferences{Theme: "neon"}); err == nil {
		t.Fatalf("expected unsupported theme error")
	}
	if err := m.SavePreferences(ctx, "u1", &Preferences{Theme: ThemeDark, Pins: []string{"c1", "c2"}}); err != nil {
		t.Fatalf("SavePreferences error: %v", err)
	}
	prefs, err = m.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences error: %v", err)
	}
	if prefs.Theme != ThemeDark || len(prefs.Pins) != 2 || prefs.Pins[1] != "c2" {
		t.Fatalf("unexpected preferences: %+v", prefs)
	}
}
