package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	themeKey = "theme:"
	pinsKey  = "dashboard.pins:"

	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

var ErrInvalidTheme = errors.New("unsupported theme")

// Preferences are per-user display settings.
type Preferences struct {
	Theme string   `json:"theme"`
	Pins  []string `json:"pins"`
}

// Preferences returns the stored preferences, defaulting to the light theme.
func (m *Manager) Preferences(ctx context.Context, userID string) (*Preferences, error) {
	prefs := &Preferences{Theme: ThemeLight, Pins: []string{}}
	theme, err := m.kv.Get(ctx, themeKey+userID)
	switch {
	case err == nil:
		prefs.Theme = theme
	case !errors.Is(err, ErrKeyMissing):
		return nil, fmt.Errorf("load theme: %w", err)
	}
	raw, err := m.kv.Get(ctx, pinsKey+userID)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &prefs.Pins); err != nil {
			return nil, fmt.Errorf("decode pins: %w", err)
		}
	case !errors.Is(err, ErrKeyMissing):
		return nil, fmt.Errorf("load pins: %w", err)
	}
	return prefs, nil
}

// SavePreferences persists preferences without expiry.
func (m *Manager) SavePreferences(ctx context.Context, userID string, prefs *Preferences) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if prefs == nil {
		return errors.New("preferences required")
	}
	switch prefs.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("%w %q", ErrInvalidTheme, prefs.Theme)
	}
	pins := prefs.Pins
	if pins == nil {
		pins = []string{}
	}
	data, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encode pins: %w", err)
	}
	if err := m.kv.Set(ctx, themeKey+userID, prefs.Theme, 0); err != nil {
		return fmt.Errorf("store theme: %w", err)
	}
	if err := m.kv.Set(ctx, pinsKey+userID, string(data), 0); err != nil {
		return fmt.Errorf("store pins: %w", err)
	}
	return nil
}
