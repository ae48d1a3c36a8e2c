package hook

import (
	"sync"
	"sync/atomic"

	"github.com/axmq/broker/topic"
)

// Manager manages the registration and invocation of hooks. It satisfies
// topic.ACLChecker and topic.PersistNotifier, so it plugs directly into a
// topic.Config.
type Manager struct {
	mu       sync.Mutex
	hooksPtr atomic.Pointer[[]Hook]
	index    map[string]int
}

// NewManager creates a new hooks manager
func NewManager() *Manager {
	m := &Manager{
		index: make(map[string]int),
	}
	hooks := make([]Hook, 0)
	m.hooksPtr.Store(&hooks)
	return m
}

// Add adds a hook to the manager
// Returns an error if a hook with the same ID already exists
func (m *Manager) Add(hook Hook) error {
	if hook == nil {
		return ErrEmptyHookID
	}

	id := hook.ID()
	if id == "" {
		return ErrEmptyHookID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[id]; exists {
		return ErrHookAlreadyExists
	}

	// Copy-on-write: create new slice with added hook
	oldHooks := *m.hooksPtr.Load()
	newHooks := make([]Hook, len(oldHooks)+1)
	copy(newHooks, oldHooks)
	newHooks[len(oldHooks)] = hook

	m.index[id] = len(oldHooks)
	m.hooksPtr.Store(&newHooks)

	return nil
}

// Remove removes a hook by its ID
// Returns an error if the hook is not found
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.index[id]
	if !exists {
		return ErrHookNotFound
	}

	// Copy-on-write: create new slice without removed hook
	oldHooks := *m.hooksPtr.Load()
	newHooks := make([]Hook, len(oldHooks)-1)
	copy(newHooks[:idx], oldHooks[:idx])
	copy(newHooks[idx:], oldHooks[idx+1:])

	delete(m.index, id)

	for i := idx; i < len(newHooks); i++ {
		m.index[newHooks[i].ID()] = i
	}

	m.hooksPtr.Store(&newHooks)

	return nil
}

// Get retrieves a hook by its ID
func (m *Manager) Get(id string) (Hook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.index[id]
	if !exists {
		return nil, false
	}

	hooks := *m.hooksPtr.Load()
	return hooks[idx], true
}

// Len returns the number of registered hooks
func (m *Manager) Len() int {
	return len(*m.hooksPtr.Load())
}

// Stop stops all registered hooks, returning the first error
func (m *Manager) Stop() error {
	var first error
	for _, h := range *m.hooksPtr.Load() {
		if err := h.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ACLCheck implements topic.ACLChecker: every hook providing OnACLCheck
// must allow the access, otherwise the delivery is denied. With no
// providing hook, access is allowed.
func (m *Manager) ACLCheck(client *topic.Client, topicName string, payload []byte, qos byte, retain bool, access topic.AccessType) error {
	for _, h := range *m.hooksPtr.Load() {
		if !h.Provides(OnACLCheck) {
			continue
		}
		if !h.OnACLCheck(client, topicName, access) {
			return topic.ErrACLDenied
		}
	}
	return nil
}

// SubscriptionDeleted implements topic.PersistNotifier, fanning the
// deletion out to every hook providing OnSubscriptionDeleted.
func (m *Manager) SubscriptionDeleted(client *topic.Client, topicFilter string) {
	for _, h := range *m.hooksPtr.Load() {
		if h.Provides(OnSubscriptionDeleted) {
			h.OnSubscriptionDeleted(client, topicFilter)
		}
	}
}

// Subscribe fans OnSubscribe out to providing hooks, stopping at the
// first error.
func (m *Manager) Subscribe(client *topic.Client, sub *topic.Subscription) error {
	for _, h := range *m.hooksPtr.Load() {
		if !h.Provides(OnSubscribe) {
			continue
		}
		if err := h.OnSubscribe(client, sub); err != nil {
			return err
		}
	}
	return nil
}

// Subscribed fans OnSubscribed out to providing hooks
func (m *Manager) Subscribed(client *topic.Client, sub *topic.Subscription) {
	for _, h := range *m.hooksPtr.Load() {
		if h.Provides(OnSubscribed) {
			h.OnSubscribed(client, sub)
		}
	}
}

// Unsubscribed fans OnUnsubscribed out to providing hooks
func (m *Manager) Unsubscribed(client *topic.Client, topicFilter string) {
	for _, h := range *m.hooksPtr.Load() {
		if h.Provides(OnUnsubscribed) {
			h.OnUnsubscribed(client, topicFilter)
		}
	}
}
