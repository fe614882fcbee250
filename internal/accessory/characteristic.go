package accessory

import "sync"

// Characteristic is one observable value of an accessory. Set is the user
// path and runs the registered handler; UpdateValue pushes a value without
// running it.
type Characteristic[T comparable] struct {
	mu      sync.RWMutex
	value   T
	handler func(T)
}

// Value returns the current value.
func (c *Characteristic[T]) Value() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// OnSet registers the handler run by Set, replacing any previous one.
func (c *Characteristic[T]) OnSet(handler func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Set stores v and runs the handler, if any.
func (c *Characteristic[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(v)
	}
}

// UpdateValue stores v without running the handler. It reports whether the
// value changed.
func (c *Characteristic[T]) UpdateValue(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.value != v
	c.value = v
	return changed
}
