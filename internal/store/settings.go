package store

import (
	"context"
	"sync"

	"main/pkg/kv"

	"github.com/yanun0323/errors"
)

const (
	nsSettings  = "settings"
	settingsKey = "ui"
)

// Settings are the user-adjustable client options.
type Settings struct {
	Theme        string `json:"theme"`
	Endpoint     string `json:"endpoint"`
	Model        string `json:"model"`
	SearchEngine string `json:"searchEngine"`
}

// DefaultSettings returns the out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		Theme:        "dark",
		SearchEngine: "duckduckgo",
	}
}

// SettingsStore persists one Settings blob.
type SettingsStore struct {
	store kv.Store

	mu      sync.Mutex
	current Settings
}

// NewSettings loads persisted settings, falling back to defaults.
func NewSettings(ctx context.Context, store kv.Store) (*SettingsStore, error) {
	s := &SettingsStore{store: store, current: DefaultSettings()}
	err := kv.GetJSON(ctx, store, nsSettings, settingsKey, &s.current)
	if err != nil && !kv.IsNotFound(err) {
		return nil, errors.Wrap(err, "load settings")
	}
	return s, nil
}

// Get returns the current settings snapshot.
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to the settings and persists the result.
func (s *SettingsStore) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	fn(&next)
	if err := kv.SetJSON(ctx, s.store, nsSettings, settingsKey, next); err != nil {
		return s.current, errors.Wrap(err, "persist settings")
	}
	s.current = next
	return next, nil
}

// Reset restores defaults and clears the persisted blob.
func (s *SettingsStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx, nsSettings); err != nil {
		return errors.Wrap(err, "clear settings")
	}
	s.current = DefaultSettings()
	return nil
}
