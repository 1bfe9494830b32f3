// Package session holds the signed-in user and broadcasts user changes.
// It implements domain.Session for the sync engine.
package session

import (
	"sort"
	"sync"
)

// Manager tracks the current user id.
type Manager struct {
	mu     sync.Mutex
	userID string
	nextID int
	subs   map[int]func(userID string)
}

// NewManager returns a manager signed in as userID ("" for nobody).
func NewManager(userID string) *Manager {
	return &Manager{userID: userID, subs: make(map[int]func(string))}
}

// CurrentUserID returns "" when nobody is signed in.
func (m *Manager) CurrentUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// SetUser switches the signed-in user. Subscribers are called synchronously,
// in subscription order, only when the id actually changes.
func (m *Manager) SetUser(userID string) {
	m.mu.Lock()
	if m.userID == userID {
		m.mu.Unlock()
		return
	}
	m.userID = userID
	fns := m.snapshot()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

// SignOut is SetUser("").
func (m *Manager) SignOut() { m.SetUser("") }

// Subscribe registers fn for user changes. The returned func unsubscribes
// and is safe to call more than once.
func (m *Manager) Subscribe(fn func(userID string)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// snapshot must be called with mu held.
func (m *Manager) snapshot() []func(string) {
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), len(ids))
	for i, id := range ids {
		fns[i] = m.subs[id]
	}
	return fns
}
