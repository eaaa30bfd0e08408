// Package session implements interactive shell sessions: per-connection
// state, command-line parsing, and the dispatcher that runs lines against a
// command manager.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/telnet2/shelld/internal/command"
)

// Session is the state of one connected user. It satisfies command.Session.
type Session struct {
	id       string
	listener string
	created  time.Time

	mu      sync.RWMutex
	values  map[string]string
	current *command.Execution
	closed  bool
}

// New creates a session for a connection accepted by listener.
func New(listener string) *Session {
	return &Session{
		id:       ulid.Make().String(),
		listener: listener,
		created:  time.Now(),
		values:   make(map[string]string),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Listener returns the name of the listener the session came in on.
func (s *Session) Listener() string { return s.listener }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Get returns a session value.
func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Put sets a session value.
func (s *Session) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes a session value.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the stored keys sorted.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Current returns the execution running in the foreground, or nil.
func (s *Session) Current() *command.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Interrupt cancels the foreground execution. It reports whether there was
// one to cancel.
func (s *Session) Interrupt() bool {
	s.mu.RLock()
	exe := s.current
	s.mu.RUnlock()
	if exe == nil || exe.Completed() {
		return false
	}
	return exe.Cancel() == nil
}

func (s *Session) setCurrent(exe *command.Execution) {
	s.mu.Lock()
	s.current = exe
	s.mu.Unlock()
}

func (s *Session) clearCurrent(exe *command.Execution) {
	s.mu.Lock()
	if s.current == exe {
		s.current = nil
	}
	s.mu.Unlock()
}

// markClosed reports whether this call closed the session.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}
