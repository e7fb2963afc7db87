// Package ident issues process-unique annotation identifiers and tracks every
// identifier seen in the current document session, so a freshly minted id can
// never collide with one loaded from the server.
package ident

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"
	"time"
)

// Registry is the set of every identifier issued or observed in the current
// session. One Registry is shared by everything that mints or records ids for
// a document; it is cleared at the start of every full reload.
type Registry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// NewID mints an identifier from a base-36 millisecond timestamp and a short
// random suffix, retrying until it does not collide with a registered id. The
// returned id is registered before it is returned.
func (r *Registry) NewID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var id string
	for {
		id = strconv.FormatInt(time.Now().UnixMilli(), 36) + randomSuffix()
		if _, exists := r.ids[id]; !exists {
			break
		}
	}
	r.ids[id] = struct{}{}
	return id
}

// Register records an id seen elsewhere (typically loaded from the remote
// store). Returns true if the id was not already registered.
func (r *Registry) Register(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ids[id]; exists {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.ids[id]
	return exists
}

// Clear forgets every registered id. Called at the start of a full reload;
// ids are re-registered from the freshly fetched set.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = make(map[string]struct{})
}

// Len reports how many ids are registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func randomSuffix() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(bytes), 36)
	if len(suffix) > 5 {
		suffix = suffix[:5]
	}
	return suffix
}
