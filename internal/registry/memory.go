package registry

import (
	"fmt"
	"sync"
)

// MemoryRegistry keeps entries in process memory
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry)}
}

func (r *MemoryRegistry) Register(path, sessionID string, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[path] = Entry{SessionID: sessionID, PID: pid}
	return nil
}

func (r *MemoryRegistry) Unregister(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, path)
	return nil
}

func (r *MemoryRegistry) SetNote(path, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveSessionForPath, path)
	}
	entry.Note = &text
	r.entries[path] = entry
	return nil
}

func (r *MemoryRegistry) GetNote(path string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	if !ok || entry.Note == nil {
		return "", false, nil
	}
	return *entry.Note, true, nil
}

func (r *MemoryRegistry) Get(path string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[path]
	return entry, ok, nil
}

func (r *MemoryRegistry) List() (map[string]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out, nil
}
