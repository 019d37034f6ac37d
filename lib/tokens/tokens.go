// Package tokens holds the relationship type registry of the master. A
// relationship type name maps to a small integer id that never changes once
// it was handed out.
package tokens

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Holder maps relationship type names to ids
type Holder struct {
	mu     sync.Mutex // serializes creation, reads are lock free
	byName *xsync.MapOf[string, int32]
	names  []string
}

// NewHolder creates an empty holder
func NewHolder() *Holder {
	return &Holder{byName: xsync.NewMapOf[string, int32]()}
}

// Get returns the id of an existing type
func (h *Holder) Get(name string) (int32, bool) {
	return h.byName.Load(name)
}

// GetOrCreate returns the id of the type, creating it if it does not exist.
// Concurrent calls with the same name return the same id.
func (h *Holder) GetOrCreate(name string) int32 {
	if id, ok := h.byName.Load(name); ok {
		return id
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// check again, another caller may have created it meanwhile
	if id, ok := h.byName.Load(name); ok {
		return id
	}
	id := int32(len(h.names))
	h.names = append(h.names, name)
	h.byName.Store(name, id)
	return id
}

// Name returns the name of a type id
func (h *Holder) Name(id int32) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id < 0 || int(id) >= len(h.names) {
		return "", false
	}
	return h.names[id], true
}

// Size returns the number of known types
func (h *Holder) Size() int {
	return h.byName.Size()
}
