package workflow

import (
	"sort"
	"sync"
)

// Catalog holds the registered workflow definitions by name. Safe for
// concurrent use; registration after startup is allowed and last write
// wins.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

func (c *Catalog) Register(def *Definition) {
	if def == nil || def.Name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.Name] = def
}

func (c *Catalog) Get(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
