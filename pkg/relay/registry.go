// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync"
)

// Registry is the set of live connection pairs scanned by the watchdog.
// It deliberately exposes a narrow synchronized API (register, remove,
// snapshot) so ownership and locking discipline stay explicit; no other
// shared mutable state exists between pairs.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]*Pair
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pairs: make(map[string]*Pair),
	}
}

// Register adds a pair to the live set.
func (r *Registry) Register(p *Pair) {
	r.mu.Lock()
	r.pairs[p.ID] = p
	r.mu.Unlock()
}

// Remove deletes a pair from the live set. Removing an unknown or
// already-removed pair is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.pairs, id)
	r.mu.Unlock()
}

// Snapshot returns the current live pairs. The returned slice is a copy;
// callers may block on it without holding the registry lock.
func (r *Registry) Snapshot() []*Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pairs := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, p)
	}
	return pairs
}

// Count returns the number of live pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}

// CloseAll closes every live pair and empties the registry. Used on
// process shutdown; in-flight copy loops observe the closed handles and
// exit through their normal EOF/error paths.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	pairs := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, p)
	}
	r.pairs = make(map[string]*Pair)
	r.mu.Unlock()

	for _, p := range pairs {
		p.Close(reason)
	}
}
