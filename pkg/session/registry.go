package session

import (
	"sync"
)

// Registry учет активных сессий по Call-ID. Одна грубая блокировка:
// сессий единицы, шардирование здесь избыточно.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

// NewRegistry создает реестр. max <= 0 означает отсутствие лимита.
func NewRegistry(max int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
	}
}

// Add регистрирует сессию. Возвращает false, если достигнут предел
// одновременных сессий либо Call-ID уже занят.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return false
	}
	if _, ok := r.sessions[s.CallID()]; ok {
		return false
	}
	r.sessions[s.CallID()] = s
	return true
}

// Remove снимает сессию с учета. Повторный вызов безопасен.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Get возвращает сессию по Call-ID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// ActiveWithPeer есть ли активная сессия с указанным абонентом.
// Используется для решения, какие теги возможностей отдавать в OPTIONS.
func (r *Registry) ActiveWithPeer(peer string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Peer() == peer && s.Established() {
			return true
		}
	}
	return false
}

// Count число учтенных сессий.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All снимок всех сессий.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
