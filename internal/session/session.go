// Package session tracks per-user routing state: the active repository,
// a bounded history of recently used repositories, and a bounded
// conversation log.
package session

import (
	"sync"
	"time"

	"github.com/p-blackswan/repomux/ring"
)

// Entry is one conversation log record.
type Entry struct {
	At          time.Time `json:"at"`
	Repo        string    `json:"repo"`
	Instruction string    `json:"instruction"`
	Summary     string    `json:"summary"`
}

// Session is one user's routing state. The zero value is not usable;
// sessions are created by the Manager.
//
// Two locks guard a session. ordermu serializes whole instructions from
// the same user (held across an entire Handle call via Manager.Acquire),
// while mu guards individual state reads and writes. Different users'
// sessions share nothing.
type Session struct {
	UserID string

	ordermu sync.Mutex
	mu      sync.Mutex

	activeRepo string
	history    *ring.Ring[string]
	log        *ring.Ring[Entry]
	branches   map[string]string // repository name → last branch created
}

func newSession(userID string, historySize, logSize int) *Session {
	return &Session{
		UserID:   userID,
		history:  ring.New[string](historySize),
		log:      ring.New[Entry](logSize),
		branches: make(map[string]string),
	}
}

// ActiveRepo returns the active repository name, "" when unset. The name
// is a lazy reference: the repository may have been deleted since.
func (s *Session) ActiveRepo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRepo
}

// setActive replaces the active repository, pushing the previous one onto
// the history when pushPrev is set. Returns the previous name.
func (s *Session) setActive(name string, pushPrev bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.activeRepo
	if pushPrev && prev != "" && prev != name {
		s.history.Push(prev)
	}
	s.activeRepo = name
	return prev
}

// History returns recently active repository names, most recent first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.history.Items()
	// Ring stores oldest-first; callers want most recent first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// Log returns the conversation log, oldest first.
func (s *Session) Log() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Items()
}

// Record appends a conversation log entry, evicting the oldest past
// capacity.
func (s *Session) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Push(e)
}

// RecordBranch remembers the last branch created for the user in a
// repository.
func (s *Session) RecordBranch(repo, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[repo] = branch
}

// LastBranch returns the last branch created for the user in a
// repository, "" when none.
func (s *Session) LastBranch(repo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branches[repo]
}

// reset clears routing state. History and log capacity are retained.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRepo = ""
	s.history.Clear()
	s.log.Clear()
	s.branches = make(map[string]string)
}
