// Package gcrudmem provides an in-process store for gcrud. It evaluates the
// full predicate grammar in Go and keeps relations the way a relational
// store would: foreign key fields for to-one relations and join tables for
// implicit many-to-many relations.
package gcrudmem

import (
	"context"
	"sync"

	"github.com/lemmego/gcrud"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements gcrud.Provider in memory
type Provider struct {
	schema *gcrud.SchemaRegistry

	mu     sync.RWMutex
	tables map[string]*table
	joins  map[string][]link
	closed bool
}

type table struct {
	rows   []gcrud.Record
	nextID int64
}

// link is one row of an implicit join table: A and B column values
type link struct {
	a, b any
}

// New creates an empty in-memory provider for schema
func New(schema *gcrud.SchemaRegistry) *Provider {
	p := &Provider{
		schema: schema,
		tables: make(map[string]*table),
		joins:  make(map[string][]link),
	}
	for _, name := range schema.Entities() {
		p.tables[name] = &table{}
	}
	return p
}

// Factory implements gcrud.Factory
type Factory struct{}

// Create creates a new in-memory provider. Config is ignored.
func (f *Factory) Create(config gcrud.Config, schema *gcrud.SchemaRegistry) (gcrud.Provider, error) {
	if schema == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "memory provider needs a schema")
	}
	return New(schema), nil
}

// SupportedDrivers returns the list of supported drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"memory"}
}

// Store returns the store for entity
func (p *Provider) Store(entity string) (gcrud.EntityStore, error) {
	desc, err := p.schema.Entity(entity)
	if err != nil {
		return nil, err
	}
	return &Store{p: p, entity: desc}, nil
}

// Health reports an error once the provider is closed
func (p *Provider) Health(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return gcrud.NewError(gcrud.ErrorTypeConnection, "memory provider closed")
	}
	return nil
}

// Close drops all data
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.tables = make(map[string]*table)
	p.joins = make(map[string][]link)
	return nil
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() gcrud.ProviderInfo {
	return gcrud.ProviderInfo{
		Name:         "memory",
		Version:      "1.0.0",
		DatabaseType: gcrud.DatabaseTypeMemory,
		Features: []gcrud.Feature{
			gcrud.FeatureRelations,
			gcrud.FeatureAggregation,
			gcrud.FeatureCaseInsensitive,
		},
	}
}

func (p *Provider) table(entity string) (*table, error) {
	if p.closed {
		return nil, gcrud.NewError(gcrud.ErrorTypeConnection, "memory provider closed")
	}
	t, ok := p.tables[entity]
	if !ok {
		return nil, gcrud.ErrUnknownEntity(entity)
	}
	return t, nil
}

// init registers the memory provider factory
func init() {
	gcrud.RegisterProvider("memory", &Factory{})
}
