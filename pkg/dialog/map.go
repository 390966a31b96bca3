package dialog

import (
	"sync"

	"github.com/emiago/sipgo/sip"
)

// SessionKey ключ диалога: Call-ID и локальный тег
type SessionKey struct {
	CallID   sip.CallIDHeader
	LocalTag string
}

// SessionMap диалоги агента по ключу и по ветке Via начального INVITE
type SessionMap struct {
	mu       sync.RWMutex
	sessions map[SessionKey]*Session
	branches map[string]SessionKey
	onChange func(n int)
}

func NewSessionMap(onChange func(n int)) *SessionMap {
	return &SessionMap{
		sessions: make(map[SessionKey]*Session),
		branches: make(map[string]SessionKey),
		onChange: onChange,
	}
}

func (m *SessionMap) Get(callID sip.CallIDHeader, tag string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[SessionKey{CallID: callID, LocalTag: tag}]
	return s, ok
}

// GetWithTX ищет диалог по ветке Via начального INVITE
func (m *SessionMap) GetWithTX(branchID string) (*Session, bool) {
	if branchID == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.branches[branchID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[key]
	return s, ok
}

func (m *SessionMap) Put(s *Session, branchID string) {
	key := s.key()
	m.mu.Lock()
	m.sessions[key] = s
	if branchID != "" {
		m.branches[branchID] = key
		s.branch = branchID
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.changed(n)
}

func (m *SessionMap) Delete(s *Session) bool {
	key := s.key()
	m.mu.Lock()
	cur, ok := m.sessions[key]
	if !ok || cur != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, key)
	if s.branch != "" {
		delete(m.branches, s.branch)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.changed(n)
	return true
}

func (m *SessionMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionMap) changed(n int) {
	if m.onChange != nil {
		m.onChange(n)
	}
}
