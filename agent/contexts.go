package agent

import (
	"errors"
	"sync"
)

// ErrUnknownContext names a SET that targets a context name the engine
// has not registered, per the "Supplemented features" context table
// grounded on Firmware/Plugin/mibII/vacm_context.c: the original
// validates context names before a request ever reaches VACM's
// context-prefix matching. Process does not return it: it answers such a
// SET with a noAccess response.
var ErrUnknownContext = errors.New("agent: unknown context name")

// Contexts is the small registry of context names an engine recognizes,
// independent of VACM's context-prefix matching against an access row.
type Contexts struct {
	mu    sync.RWMutex
	names map[string]bool
}

// NewContexts returns a Contexts table seeding the default "" (empty)
// context, which every engine must accept.
func NewContexts() *Contexts {
	c := &Contexts{names: make(map[string]bool)}
	c.names[""] = true
	return c
}

// Add registers name as a known context.
func (c *Contexts) Add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[name] = true
}

// Remove un-registers name; the default "" context cannot be removed.
func (c *Contexts) Remove(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, name)
}

// Known reports whether name is a registered context.
func (c *Contexts) Known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[name]
}
