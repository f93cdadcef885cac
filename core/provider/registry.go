package provider

import (
	"fmt"
	"sync"

	"github.com/modelmux/modelmux/core/infra/logging"
)

// Registry holds ordered provider lists grouped by category, with a
// per-category rotation cursor. It is written during startup registration
// and read-mostly afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[Category][]*Provider
	cursors   map[Category]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Category][]*Provider),
		cursors:   make(map[Category]int),
	}
}

// Register appends p to its category list and returns the registry for
// chaining. Registration order is preserved; registering a name that
// already exists in the category appends a second entry rather than
// replacing the first.
func (r *Registry) Register(p *Provider) *Registry {
	if p == nil {
		logging.Warn("registry", "ignoring nil provider registration")
		return r
	}
	if !p.Category.Valid() {
		logging.Warn("registry", "ignoring provider with unknown category", "name", p.Name, "category", p.Category)
		return r
	}
	r.mu.Lock()
	seen := false
	for _, existing := range r.providers[p.Category] {
		if existing.Name == p.Name {
			seen = true
			break
		}
	}
	r.providers[p.Category] = append(r.providers[p.Category], p)
	r.mu.Unlock()
	if seen {
		logging.Info("registry", "provider re-registered", "name", p.Name, "category", p.Category)
	} else {
		logging.Info("registry", "provider registered", "name", p.Name, "category", p.Category)
	}
	return r
}

// GetNext returns the next provider for the category in round-robin
// order, advancing the cursor.
func (r *Registry) GetNext(c Category) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.providers[c]
	if len(list) == 0 {
		return nil, NewError(CodeServiceError, "", fmt.Sprintf("no providers registered for category %q", c))
	}
	p := list[r.cursors[c]%len(list)]
	r.cursors[c] = (r.cursors[c] + 1) % len(list)
	return p, nil
}

// GetAll returns a copy of the category's ordered provider list. The
// result is never nil; an empty slice means no registrations.
func (r *Registry) GetAll(c Category) []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, len(r.providers[c]))
	copy(out, r.providers[c])
	return out
}

// HasCategory reports whether at least one provider is registered for c.
func (r *Registry) HasCategory(c Category) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers[c]) > 0
}

// Categories returns the populated categories in declaration order.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Category, 0, len(r.providers))
	for _, c := range AllCategories {
		if len(r.providers[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Stats returns the registration count per populated category.
func (r *Registry) Stats() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Category]int, len(r.providers))
	for c, list := range r.providers {
		if len(list) > 0 {
			out[c] = len(list)
		}
	}
	return out
}

// Names returns the provider names for a category in registration order.
func (r *Registry) Names(c Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers[c]))
	for _, p := range r.providers[c] {
		out = append(out, p.Name)
	}
	return out
}
