// Package settings provides cached access to the injection message template
// and paragraph interval, persisted as keyed records.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Placeholder is replaced by a link to the resolved category.
const Placeholder = "{category}"

const (
	DefaultTemplate = "You are reading this " + Placeholder + " story on your own website."
	DefaultInterval = 10

	keyTemplate = "injection.template"
	keyInterval = "injection.interval"
)

var (
	// ErrInvalidInterval is returned when the paragraph interval is below 1.
	ErrInvalidInterval = errors.New("invalid interval: must be at least 1")

	// ErrEmptyTemplate is returned when the template is blank after sanitizing.
	ErrEmptyTemplate = errors.New("invalid template: must not be empty")
)

// Settings controls what is injected and how often.
type Settings struct {
	Template string `json:"template"`
	Interval int    `json:"interval"`
}

// Defaults returns the settings used before an administrator saves any.
func Defaults() Settings {
	return Settings{Template: DefaultTemplate, Interval: DefaultInterval}
}

// RecordStore defines the keyed-record operations the Manager needs.
// Implemented by storage.Store.
type RecordStore interface {
	GetRecord(key, def string) (string, error)
	SetRecord(key, value string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager reads and writes Settings. Reads are cached for a short TTL so
// render paths do not hit the store on every request.
type Manager struct {
	store  RecordStore
	clock  Clock
	ttl    time.Duration
	policy *bluemonday.Policy

	mu       sync.RWMutex
	cached   *Settings
	cachedAt time.Time
}

// NewManager creates a Manager with a 30-second cache TTL.
func NewManager(store RecordStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 30*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store RecordStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		policy: bluemonday.UGCPolicy(),
	}
}

// Get returns the current settings, falling back to defaults for keys that
// were never saved.
func (m *Manager) Get() (Settings, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		s := *m.cached
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, nil
	}

	tmpl, err := m.store.GetRecord(keyTemplate, DefaultTemplate)
	if err != nil {
		return Settings{}, fmt.Errorf("loading template: %w", err)
	}
	rawInterval, err := m.store.GetRecord(keyInterval, strconv.Itoa(DefaultInterval))
	if err != nil {
		return Settings{}, fmt.Errorf("loading interval: %w", err)
	}

	s := Settings{Template: tmpl, Interval: parseInterval(rawInterval)}
	m.cached = &s
	m.cachedAt = m.clock.Now()
	return s, nil
}

// Interval is a convenience accessor for render paths.
func (m *Manager) Interval() (int, error) {
	s, err := m.Get()
	if err != nil {
		return 0, err
	}
	return s.Interval, nil
}

// Set validates, sanitizes and persists s. The cache is dropped before
// writing, so a failed write never leaves stale values cached.
// The stored template is returned in the result.
func (m *Manager) Set(s Settings) (Settings, error) {
	if s.Interval < 1 {
		return Settings{}, ErrInvalidInterval
	}
	clean := strings.TrimSpace(m.policy.Sanitize(s.Template))
	if clean == "" {
		return Settings{}, ErrEmptyTemplate
	}
	if !strings.Contains(clean, Placeholder) {
		slog.Warn("injection template has no category placeholder", "placeholder", Placeholder)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A partial write must not leave the old values cached.
	m.cached = nil

	if err := m.store.SetRecord(keyTemplate, clean); err != nil {
		return Settings{}, fmt.Errorf("saving template: %w", err)
	}
	if err := m.store.SetRecord(keyInterval, strconv.Itoa(s.Interval)); err != nil {
		return Settings{}, fmt.Errorf("saving interval: %w", err)
	}
	return Settings{Template: clean, Interval: s.Interval}, nil
}

// parseInterval reads a stored interval, logging and falling back to the
// default if it is malformed. Stored values below 1 are raised to 1.
func parseInterval(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("malformed injection interval, using default", "value", raw, "error", err)
		return DefaultInterval
	}
	return max(1, n)
}
