// Package registry provides a generic, thread-safe registry of factories
// keyed by type name.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"session-keeper/internal/common/errors"
)

// Factory is implemented by everything kept in a Registry.
type Factory interface {
	GetType() string
}

// Registry maps type names to factories.
type Registry[T Factory] struct {
	factories map[string]T
	mu        sync.RWMutex
}

// New creates an empty registry.
func New[T Factory]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]T),
	}
}

// Register adds factory under factoryType, replacing any earlier one.
func (r *Registry[T]) Register(factoryType string, factory T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factoryType] = factory
}

// Get returns the factory registered under factoryType. Unknown types are a
// configuration problem and return a ConfigError.
func (r *Registry[T]) Get(factoryType string) (T, error) {
	r.mu.RLock()
	factory, exists := r.factories[factoryType]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.ConfigError(fmt.Sprintf("type %s not registered", factoryType))
	}

	return factory, nil
}

// GetAvailableTypes returns the registered types in sorted order.
func (r *Registry[T]) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for factoryType := range r.factories {
		types = append(types, factoryType)
	}
	sort.Strings(types)
	return types
}

func (r *Registry[T]) IsRegistered(factoryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[factoryType]
	return exists
}
