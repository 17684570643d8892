package claude

import "sync"

// ToolStore maps tool invocation ids to tool names for one session.
// The assistant side writes when a tool_use block is seen; the user side
// reads when the matching tool_result arrives on a later line.
type ToolStore struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewToolStore returns an empty store.
func NewToolStore() *ToolStore {
	return &ToolStore{names: make(map[string]string)}
}

// Record stores id → name. A reused id overwrites the previous name.
func (s *ToolStore) Record(id, name string) {
	if id == "" || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
}

// Lookup returns the tool name recorded for id.
func (s *ToolStore) Lookup(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[id]
	return name, ok
}

// Len returns the number of recorded invocations.
func (s *ToolStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// ToolStores holds one ToolStore per session handle. Stores are never
// shared between handles.
type ToolStores struct {
	mu     sync.Mutex
	stores map[string]*ToolStore
}

// NewToolStores returns an empty set of stores.
func NewToolStores() *ToolStores {
	return &ToolStores{stores: make(map[string]*ToolStore)}
}

// For returns the store for handle, creating it on first use.
func (s *ToolStores) For(handle string) *ToolStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.stores[handle]
	if !ok {
		store = NewToolStore()
		s.stores[handle] = store
	}
	return store
}

// Get returns the store for handle without creating one.
func (s *ToolStores) Get(handle string) (*ToolStore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.stores[handle]
	return store, ok
}

// Remove drops the store for handle. Reports whether one existed.
func (s *ToolStores) Remove(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[handle]; !ok {
		return false
	}
	delete(s.stores, handle)
	return true
}
