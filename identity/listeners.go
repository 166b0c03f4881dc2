package identity

import (
	"sync"

	"github.com/jrsteele09/go-auth-bridge/sessions"
)

// Listeners is a registry of ChangeHandlers shared by backend implementations.
type Listeners struct {
	mu       sync.RWMutex
	handlers map[int]ChangeHandler
	nextID   int
}

// Add registers handler and returns its unsubscribe func.
func (l *Listeners) Add(handler ChangeHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[int]ChangeHandler)
	}
	id := l.nextID
	l.nextID++
	l.handlers[id] = handler

	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}
}

// Emit calls every registered handler in registration order.
func (l *Listeners) Emit(event ChangeEvent, session *sessions.Session) {
	l.mu.RLock()
	handlers := make([]ChangeHandler, 0, len(l.handlers))
	for i := 0; i < l.nextID; i++ {
		if h, ok := l.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(event, session)
	}
}
