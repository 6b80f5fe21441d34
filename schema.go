package gcrud

import (
	"context"
	"sync"
)

// SchemaSource produces entity descriptors from some external definition
type SchemaSource interface {
	// Name identifies the source in errors and logs, usually a file path
	Name() string
	Load(ctx context.Context) ([]EntityDescriptor, error)
}

// StaticSource serves descriptors held in memory
type StaticSource []EntityDescriptor

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Load(ctx context.Context) ([]EntityDescriptor, error) {
	return []EntityDescriptor(s), nil
}

// SchemaProvider loads a registry from its source once and serves the cached
// copy afterwards. A failed load is not cached.
type SchemaProvider struct {
	source SchemaSource

	mu       sync.Mutex
	registry *SchemaRegistry
}

// NewSchemaProvider creates a provider for source
func NewSchemaProvider(source SchemaSource) *SchemaProvider {
	return &SchemaProvider{source: source}
}

// LoadSchema returns the registry, loading it on first use
func (p *SchemaProvider) LoadSchema(ctx context.Context) (*SchemaRegistry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registry != nil {
		return p.registry, nil
	}

	entities, err := p.source.Load(ctx)
	if err != nil {
		if IsSchemaNotFound(err) {
			return nil, err
		}
		return nil, ErrSchemaNotFound(p.source.Name(), err)
	}
	registry, err := NewSchemaRegistry(entities)
	if err != nil {
		return nil, ErrSchemaNotFound(p.source.Name(), err)
	}
	p.registry = registry
	return registry, nil
}

// GetEntity loads the schema if needed and returns one entity descriptor
func (p *SchemaProvider) GetEntity(ctx context.Context, name string) (*EntityDescriptor, error) {
	r, err := p.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	return r.Entity(name)
}

// GetFieldIndex loads the schema if needed and returns the field index of one entity
func (p *SchemaProvider) GetFieldIndex(ctx context.Context, name string) (FieldIndex, error) {
	r, err := p.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	return r.FieldIndex(name)
}
