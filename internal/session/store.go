// Package session holds the authenticated user's token and profile and
// persists them across restarts.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
)

// StorageKey is where the session is persisted.
const StorageKey = "auth-storage"

// Persister is the durable backing for the session.
type Persister interface {
	LoadState(key string) (string, bool, error)
	SaveState(key, value string) error
}

// State is the persisted shape.
type State struct {
	Token string    `json:"token,omitempty"`
	User  *api.User `json:"user,omitempty"`
}

// Change is published on session.changed after every write.
type Change struct {
	HasToken bool
	User     *api.User
}

// Store is the single source of truth for the current credentials.
type Store struct {
	persist Persister
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	state    State
	hydrated bool

	once       sync.Once
	hydratedCh chan struct{}
}

// NewStore creates an un-hydrated store.
func NewStore(p Persister, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		persist:    p,
		bus:        b,
		logger:     logger,
		hydratedCh: make(chan struct{}),
	}
}

// Hydrate loads the persisted session. The store counts as hydrated once the
// attempt finishes, whatever its outcome; only the first call does any work.
func (s *Store) Hydrate() error {
	var loadErr error
	s.once.Do(func() {
		loadErr = s.load()

		s.mu.Lock()
		s.hydrated = true
		s.mu.Unlock()
		close(s.hydratedCh)

		if loadErr != nil {
			s.logger.Warn("session hydrate failed, starting logged out", zap.Error(loadErr))
		}
		s.publish()
	})
	return loadErr
}

func (s *Store) load() error {
	raw, ok, err := s.persist.LoadState(StorageKey)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// Hydrated is closed when hydration has finished.
func (s *Store) Hydrated() <-chan struct{} {
	return s.hydratedCh
}

// IsHydrated reports whether Hydrate has completed.
func (s *Store) IsHydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// User returns the current user, or nil.
func (s *Store) User() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.User
}

// Snapshot returns both fields read under one lock.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetToken stores token. An empty token clears it.
func (s *Store) SetToken(token string) error {
	return s.update(func(st *State) { st.Token = token })
}

// SetUser stores user. nil clears it.
func (s *Store) SetUser(user *api.User) error {
	return s.update(func(st *State) { st.User = user })
}

// SetCredentials stores token and user in one write.
func (s *Store) SetCredentials(token string, user *api.User) error {
	return s.update(func(st *State) {
		st.Token = token
		st.User = user
	})
}

// Clear logs out.
func (s *Store) Clear() error {
	return s.update(func(st *State) { *st = State{} })
}

func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	prev := s.state
	fn(&s.state)
	next := s.state
	s.mu.Unlock()

	if err := s.save(next); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return err
	}
	s.publish()
	return nil
}

func (s *Store) save(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.persist.SaveState(StorageKey, string(data)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) publish() {
	if s.bus == nil {
		return
	}
	st := s.Snapshot()
	s.bus.Publish(bus.NewEvent(bus.KindSessionChanged, Change{HasToken: st.Token != "", User: st.User}))
}

// Expired reports whether token is a JWT whose exp claim is before now.
// Opaque tokens are never considered expired here; the server decides.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
