package ratelimit

import (
	"sort"
	"sync"
)

// Whitelist is the set of keys exempt from rate limiting.
// It is owned by the composition root and lost on restart.
type Whitelist struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewWhitelist creates a whitelist seeded with keys
func NewWhitelist(keys ...string) *Whitelist {
	w := &Whitelist{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		w.Add(k)
	}
	return w
}

// Add exempts key; empty keys are ignored
func (w *Whitelist) Add(key string) {
	if key == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[key] = struct{}{}
}

// Remove drops key and reports whether it was present
func (w *Whitelist) Remove(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keys[key]
	delete(w.keys, key)
	return ok
}

// Contains reports whether any of keys is exempt
func (w *Whitelist) Contains(keys ...string) bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, k := range keys {
		if _, ok := w.keys[k]; ok {
			return true
		}
	}
	return false
}

// List returns the exempt keys sorted
func (w *Whitelist) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.keys))
	for k := range w.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clear removes every key
func (w *Whitelist) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = make(map[string]struct{})
}

// Len returns the number of exempt keys
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.keys)
}
