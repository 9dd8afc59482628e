package session

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/repomux/internal/access"
	rerrors "github.com/p-blackswan/repomux/internal/errors"
	"github.com/p-blackswan/repomux/internal/registry"
)

// Manager owns all user sessions and resolves their active repository
// against the registry. Sessions are created on first use and never
// expire automatically.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	reg         *registry.Registry
	historySize int
	logSize     int
	logger      zerolog.Logger
}

// NewManager creates a session manager bound to a registry.
func NewManager(reg *registry.Registry, historySize, logSize int, logger zerolog.Logger) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		reg:         reg,
		historySize: historySize,
		logSize:     logSize,
		logger:      logger.With().Str("component", "session").Logger(),
	}
}

// Get returns the user's session, creating it on first use.
func (m *Manager) Get(userID string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s = newSession(userID, m.historySize, m.logSize)
	m.sessions[userID] = s
	m.logger.Debug().Str("user", userID).Msg("session created")
	return s
}

// Acquire returns the user's session with its instruction-order lock
// held, and the release function. Instructions from one user are
// processed strictly in arrival order; different users proceed
// independently.
func (m *Manager) Acquire(userID string) (*Session, func()) {
	s := m.Get(userID)
	s.ordermu.Lock()
	return s, s.ordermu.Unlock
}

// Resolve returns the session's active repository. A stale or unset
// reference falls back to the registry default when the user holds at
// least read on it; otherwise the caller gets an explicit ErrNoActiveRepo
// — never an arbitrary repository.
func (m *Manager) Resolve(s *Session) (*registry.Repository, error) {
	if name := s.ActiveRepo(); name != "" {
		repo, err := m.reg.Get(name)
		if err == nil {
			return repo, nil
		}
		m.logger.Warn().
			Str("user", s.UserID).
			Str("stale_repo", name).
			Msg("active repository no longer registered, trying default")
	}

	def, err := m.reg.Default()
	if err != nil {
		m.logger.Warn().Str("user", s.UserID).Msg("no default repository to fall back to")
		return nil, fmt.Errorf("resolve for %s: %w", s.UserID, rerrors.ErrNoActiveRepo)
	}

	if !access.Check(def.AccessControl, s.UserID, access.Read) {
		m.logger.Warn().
			Str("user", s.UserID).
			Str("default", def.Name).
			Msg("user lacks read on default repository, no fallback")
		return nil, fmt.Errorf("resolve for %s: %w", s.UserID, rerrors.ErrNoActiveRepo)
	}

	s.setActive(def.Name, false)
	m.logger.Info().
		Str("user", s.UserID).
		Str("repo", def.Name).
		Msg("fell back to default repository")
	return def, nil
}

// SetActive switches the user's active repository after a read-level
// access check. On success the previous active repository is pushed onto
// the bounded history and its name returned. On failure session state is
// untouched.
func (m *Manager) SetActive(s *Session, name string) (string, error) {
	repo, err := m.reg.Get(name)
	if err != nil {
		return "", err
	}

	decision := access.Evaluate(repo.AccessControl, s.UserID, access.Read)
	if !decision.Allowed {
		m.logger.Warn().
			Str("user", s.UserID).
			Str("repo", name).
			Str("reason", string(decision.Reason)).
			Msg("switch denied")
		return "", fmt.Errorf("switch to %q: %w (%s)", name, rerrors.ErrAccessDenied, decision.Reason)
	}

	prev := s.setActive(name, true)
	m.logger.Info().
		Str("user", s.UserID).
		Str("repo", name).
		Str("previous", prev).
		Msg("active repository switched")
	return prev, nil
}

// Reset clears the user's routing state: history, conversation log and
// active repository.
func (m *Manager) Reset(userID string) {
	m.Get(userID).reset()
	m.logger.Info().Str("user", userID).Msg("session reset")
}
