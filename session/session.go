// Package session holds the authenticated session, the only client state
// persisted across restarts.
package session

import (
	"context"
	"errors"
	"sync"

	"go.trai.ch/zerr"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/storage"
)

// StorageKey is the namespaced key the session is persisted under.
const StorageKey = "persist:auth"

// User is the snapshot of the logged-in user kept with the token.
type User struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Session is a token plus the user it belongs to. The zero value is logged out.
type Session struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// LoggedIn reports whether the session carries a token.
func (s Session) LoggedIn() bool {
	return s.Token != ""
}

// Options configures a Manager.
type Options struct {
	Store      storage.Store
	Serializer storage.Serializer
	Key        string // defaults to StorageKey
	Logger     cache.Logger
	DebugMode  bool
}

// Manager owns the current session and its persisted copy.
type Manager struct {
	mu        sync.RWMutex
	current   Session
	loaded    bool
	listeners []func(Session)

	store      storage.Store
	serializer storage.Serializer
	key        string
	logger     cache.Logger
	debug      bool
}

// NewManager creates a Manager. Call Load before reading the session.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Serializer == nil {
		opts.Serializer = storage.NewJSONSerializer()
	}
	if opts.Key == "" {
		opts.Key = StorageKey
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	return &Manager{
		store:      opts.Store,
		serializer: opts.Serializer,
		key:        opts.Key,
		logger:     opts.Logger,
		debug:      opts.DebugMode,
	}, nil
}

// Load rehydrates the persisted session. A missing or unreadable record
// leaves the manager logged out; only store failures are returned.
func (m *Manager) Load(ctx context.Context) (Session, error) {
	var s Session
	data, err := m.store.Get(ctx, m.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return Session{}, zerr.Wrap(err, "failed to rehydrate session")
	default:
		if err := m.serializer.Unmarshal(data, &s); err != nil {
			m.logger.Warn("Session: discarding unreadable persisted session", "key", m.key, "error", err)
			s = Session{}
		}
	}

	m.mu.Lock()
	m.current = s
	m.loaded = true
	m.mu.Unlock()

	if m.debug {
		m.logger.Debug("Session: rehydrated", "loggedIn", s.LoggedIn())
	}
	return s, nil
}

// Loaded reports whether Load has completed.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Token returns the current token, read at call time.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Token
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.current
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// SetCredentials replaces the session and persists it.
func (m *Manager) SetCredentials(ctx context.Context, token string, user User) error {
	if token == "" {
		return ErrEmptyToken
	}
	s := Session{Token: token, User: &user}

	m.mu.Lock()
	m.current = s
	m.loaded = true
	listeners := append([]func(Session){}, m.listeners...)
	m.mu.Unlock()

	err := storage.Save(ctx, m.store, m.serializer, m.key, s)
	notify(listeners, s)
	if err != nil {
		return zerr.Wrap(err, "failed to persist session")
	}
	if m.debug {
		m.logger.Debug("Session: credentials set", "userID", user.ID)
	}
	return nil
}

// UpdateUser replaces the user snapshot of a logged-in session.
func (m *Manager) UpdateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	if !m.current.LoggedIn() {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	m.current.User = &user
	s := m.current
	m.mu.Unlock()

	if err := storage.Save(ctx, m.store, m.serializer, m.key, s); err != nil {
		return zerr.Wrap(err, "failed to persist session")
	}
	return nil
}

// Clear logs out. The in-memory token is dropped before the store is
// touched so requests issued from here on carry no token.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	wasLoggedIn := m.current.LoggedIn()
	m.current = Session{}
	listeners := append([]func(Session){}, m.listeners...)
	m.mu.Unlock()

	err := m.store.Delete(ctx, m.key)
	if wasLoggedIn {
		notify(listeners, Session{})
	}
	if err != nil {
		return zerr.Wrap(err, "failed to delete persisted session")
	}
	if m.debug {
		m.logger.Debug("Session: cleared")
	}
	return nil
}

// OnChange registers fn to be called after every credential change.
func (m *Manager) OnChange(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func notify(listeners []func(Session), s Session) {
	for _, fn := range listeners {
		fn(s)
	}
}

var (
	// ErrNoStore is returned when a Manager has no backing store.
	ErrNoStore = errors.New("session store is required")

	// ErrEmptyToken is returned by SetCredentials without a token.
	ErrEmptyToken = errors.New("session token is empty")

	// ErrLoggedOut is returned when an operation needs a session.
	ErrLoggedOut = errors.New("not logged in")
)
