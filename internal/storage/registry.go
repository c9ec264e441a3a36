package storage

import (
	"context"
	"fmt"
	"strings"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/registry"
)

// Registry maps store types to the factories that build them.
type Registry struct {
	*registry.Registry[Factory]
}

func NewRegistry() *Registry {
	return &Registry{Registry: registry.New[Factory]()}
}

// Create builds a store of storeType. Unknown types return a ConfigError
// naming the registered ones.
func (r *Registry) Create(ctx context.Context, storeType string, opts Options) (SessionStore, error) {
	if !r.IsRegistered(storeType) {
		return nil, errors.ConfigError(fmt.Sprintf("store type %q not registered (available: %s)",
			storeType, strings.Join(r.GetAvailableTypes(), ", ")))
	}
	factory, err := r.Get(storeType)
	if err != nil {
		return nil, err
	}
	return factory.Create(ctx, opts)
}

var DefaultRegistry = NewRegistry()

func Register(storeType string, factory Factory) {
	DefaultRegistry.Register(storeType, factory)
}

func Create(ctx context.Context, storeType string, opts Options) (SessionStore, error) {
	return DefaultRegistry.Create(ctx, storeType, opts)
}

func GetAvailableTypes() []string {
	return DefaultRegistry.GetAvailableTypes()
}
