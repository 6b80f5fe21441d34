package gcrud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	once                sync.Once
	instance            *ProviderRegistry
	ErrProviderNotFound = errors.New("provider not found")
)

// Factory opens providers for one adapter
type Factory interface {
	// Create opens a provider whose stores serve the entities of schema
	Create(config Config, schema *SchemaRegistry) (Provider, error)

	// SupportedDrivers lists the config.Driver values the factory accepts
	SupportedDrivers() []string
}

// ProviderRegistry holds adapter factories by name and opened providers by instance name
type ProviderRegistry struct {
	mutex     sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

// NewProviderRegistry creates an empty registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Registry returns the process-wide registry adapters register into
func Registry() *ProviderRegistry {
	once.Do(func() {
		instance = NewProviderRegistry()
	})
	return instance
}

// RegisterProvider registers an adapter factory with the process-wide registry.
// Adapters call it from init.
func RegisterProvider(name string, factory Factory) {
	Registry().RegisterFactory(name, factory)
}

// RegisterFactory adds or replaces an adapter factory
func (r *ProviderRegistry) RegisterFactory(name string, factory Factory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.factories[name] = factory
}

// Factory returns the factory registered as name
func (r *ProviderRegistry) Factory(name string) (Factory, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: adapter '%s' not registered", ErrProviderNotFound, name)
	}
	return f, nil
}

// Adapters returns the registered adapter names, sorted
func (r *ProviderRegistry) Adapters() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return SortedKeys(r.factories)
}

// Open creates a provider with the named adapter and registers it as instanceName
func (r *ProviderRegistry) Open(adapter, instanceName string, config Config, schema *SchemaRegistry) (Provider, error) {
	f, err := r.Factory(adapter)
	if err != nil {
		return nil, err
	}
	p, err := f.Create(config, schema)
	if err != nil {
		return nil, err
	}
	r.Register(instanceName, p)
	return p, nil
}

// Register adds an opened provider, replacing any instance with the same name
func (r *ProviderRegistry) Register(instanceName string, provider Provider) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[instanceName] = provider
}

// RegisterDefault registers provider as the "default" instance
func (r *ProviderRegistry) RegisterDefault(provider Provider) {
	r.Register("default", provider)
}

// Get retrieves an opened provider, the "default" instance when no name is given
func (r *ProviderRegistry) Get(instanceName ...string) (Provider, error) {
	name := "default"
	if len(instanceName) > 0 {
		name = instanceName[0]
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: instance '%s' not found", ErrProviderNotFound, name)
	}
	return p, nil
}

// MustGet retrieves a provider by instance name, panics if not found
func (r *ProviderRegistry) MustGet(instanceName ...string) Provider {
	p, err := r.Get(instanceName...)
	if err != nil {
		panic(err)
	}
	return p
}

// ListInstances returns the names of all opened providers, sorted
func (r *ProviderRegistry) ListInstances() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove closes and removes a provider from the registry
func (r *ProviderRegistry) Remove(instanceName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p, ok := r.providers[instanceName]
	if !ok {
		return fmt.Errorf("%w: instance '%s' not found", ErrProviderNotFound, instanceName)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("error closing provider: %w", err)
	}
	delete(r.providers, instanceName)
	return nil
}

// RemoveAll closes and removes all providers, returning the first close error
func (r *ProviderRegistry) RemoveAll() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var firstErr error
	for name, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing provider %s: %w", name, err)
		}
	}
	r.providers = make(map[string]Provider)
	return firstErr
}

// HealthCheck checks the health of all opened providers
func (r *ProviderRegistry) HealthCheck(ctx context.Context) map[string]error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	results := make(map[string]error, len(r.providers))
	for name, p := range r.providers {
		results[name] = p.Health(ctx)
	}
	return results
}

// Open creates a provider with the adapter registered as adapter in the
// process-wide registry and registers it as the default instance
func Open(adapter string, config Config, schema *SchemaRegistry) (Provider, error) {
	return Registry().Open(adapter, "default", config, schema)
}
