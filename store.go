package gcrud

import "context"

// =====================================
// Store Interfaces
// =====================================

// Record is one stored row, keyed by field name. Relation fields hold a
// nested Record or a []Record when selected.
type Record = map[string]any

// FindManyArgs is a paginated read
type FindManyArgs struct {
	Where   Predicate
	Select  Selection
	Include []string
	OrderBy OrderBy
	Skip    int
	Take    int
}

// UpdateArgs addresses one record and carries the payload built by BuildUpdatePayload
type UpdateArgs struct {
	Where Predicate
	Data  Record
}

// DeleteArgs addresses one record and the fields of it to return
type DeleteArgs struct {
	Where  Predicate
	Select Selection
}

// AggregateArgs counts the records matching Where. Count lists the fields
// counted, normally the primary key.
type AggregateArgs struct {
	Where Predicate
	Count []string
}

// AggregateResult holds the count per requested field
type AggregateResult struct {
	Count map[string]int64
}

// EntityStore is the per-entity store client the service drives.
// Predicates and selections use the shapes built by this package.
type EntityStore interface {
	// Create inserts data and returns the stored record
	Create(ctx context.Context, data Record) (Record, error)

	// FindFirst returns the first match, or nil with no error when nothing matches
	FindFirst(ctx context.Context, where Predicate) (Record, error)

	// FindMany returns one page of matches
	FindMany(ctx context.Context, args FindManyArgs) ([]Record, error)

	// Update applies the payload and returns the updated record.
	// A missing record is a not_found error.
	Update(ctx context.Context, args UpdateArgs) (Record, error)

	// Delete removes a record and returns the selected fields of it.
	// A missing record is a not_found error.
	Delete(ctx context.Context, args DeleteArgs) (Record, error)

	// Aggregate counts matches
	Aggregate(ctx context.Context, args AggregateArgs) (*AggregateResult, error)
}

// Provider hands out entity stores backed by one database connection
type Provider interface {
	// Store returns the store for entity, or an unknown_entity error
	Store(entity string) (EntityStore, error)

	// Health checks if the database connection is healthy and responsive
	Health(ctx context.Context) error

	// Close shuts down the provider and releases all resources
	Close() error

	// ProviderInfo returns metadata about this provider
	ProviderInfo() ProviderInfo
}
