package gcrudsql

import (
	"context"
)

// Executor runs rendered statements. Query results are column name to value
// maps. Implementations convert driver errors into gcrud errors.
type Executor interface {
	// Query runs a statement that returns rows
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// Exec runs a statement and returns the number of affected rows
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Transaction runs fn in a transaction, committing when fn returns nil.
	// fn must use tx for every statement.
	Transaction(ctx context.Context, fn func(tx Executor) error) error
}
