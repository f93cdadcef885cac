package schema

import (
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Cache memoizes compiled schemas so repeated submissions of the same
// workflow skip recompilation. Entries are keyed by workflow name and
// fingerprinted by the marshaled schema body, so re-registering a
// definition with a changed schema recompiles transparently.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	fingerprint string
	compiled    *jsonschema.Schema
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Validate validates value against the inline schema registered under
// name, compiling at most once per schema body.
func (c *Cache) Validate(name string, schema map[string]any, value any) error {
	compiled, err := c.lookup(name, schema)
	if err != nil {
		return err
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (c *Cache) lookup(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := marshalSchema(schema)
	if err != nil {
		return nil, err
	}
	fingerprint := string(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[name]; ok && entry.fingerprint == fingerprint {
		return entry.compiled, nil
	}
	compiled, err := compile(name, data)
	if err != nil {
		return nil, err
	}
	c.entries[name] = &cacheEntry{fingerprint: fingerprint, compiled: compiled}
	return compiled, nil
}

// Len reports the number of cached schemas, for introspection in tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
