package discovery

import (
	"sync"

	"github.com/arzzra/rcs_core/pkg/capability"
)

// Listener получатель уведомлений об обновлении возможностей.
// Реализуется прикладными сервисами поверх ядра.
type Listener interface {
	// OnCapabilitiesUpdated вызывается после записи нового снимка
	// возможностей контакта в хранилище
	OnCapabilitiesUpdated(peer string, cap capability.Capability)
}

// ListenerFunc адаптер функции к интерфейсу Listener
type ListenerFunc func(peer string, cap capability.Capability)

func (f ListenerFunc) OnCapabilitiesUpdated(peer string, cap capability.Capability) {
	f(peer, cap)
}

// listenerSet потокобезопасный набор слушателей
type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (s *listenerSet) add(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *listenerSet) notify(peer string, cap capability.Capability) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	// Вызовы вне блокировки: слушатель может снова обратиться к ядру
	for _, l := range listeners {
		l.OnCapabilitiesUpdated(peer, cap)
	}
}
