// Package gcrudsql renders gcrud predicates, selections and mutations into
// parameterised SQL and runs them through an Executor. The gorm and bun
// adapters supply the Executor; this package owns the query shapes.
//
// Placeholders are always written as "?". Both gorm and bun rebind them for
// the target database.
package gcrudsql

import (
	"fmt"
	"strings"

	"github.com/lemmego/gcrud"
)

type insertIDStrategy int

const (
	// INSERT ... RETURNING pk
	returningID insertIDStrategy = iota
	// INSERT ... OUTPUT INSERTED.pk VALUES ...
	outputID
	// SELECT LAST_INSERT_ID() on the same connection
	lastInsertID
)

// Dialect holds the SQL differences between the supported databases
type Dialect struct {
	name     string
	open     string
	close    string
	insertID insertIDStrategy
}

var (
	Postgres  = Dialect{name: "postgres", open: `"`, close: `"`, insertID: returningID}
	SQLite    = Dialect{name: "sqlite", open: `"`, close: `"`, insertID: returningID}
	MySQL     = Dialect{name: "mysql", open: "`", close: "`", insertID: lastInsertID}
	SQLServer = Dialect{name: "sqlserver", open: "[", close: "]", insertID: outputID}
)

// DialectFor maps a configured driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx", "pgdriver":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return Dialect{}, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported driver: %s", driver))
}

// Name returns the dialect name
func (d Dialect) Name() string {
	return d.name
}

// Quote quotes an identifier, doubling any embedded closing quote
func (d Dialect) Quote(ident string) string {
	return d.open + strings.ReplaceAll(ident, d.close, d.close+d.close) + d.close
}

// page renders the paging clause. take <= 0 means no limit.
func (d Dialect) page(take, skip int) string {
	if take <= 0 && skip <= 0 {
		return ""
	}
	switch d.name {
	case "sqlserver":
		s := fmt.Sprintf(" OFFSET %d ROWS", skip)
		if take > 0 {
			s += fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", take)
		}
		return s
	case "postgres":
		if take <= 0 {
			return fmt.Sprintf(" OFFSET %d", skip)
		}
	case "sqlite":
		if take <= 0 {
			take = -1
		}
	case "mysql":
		if take <= 0 {
			return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", skip)
		}
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", take, skip)
}

// emptyInsert renders an INSERT with no explicit columns
func (d Dialect) emptyInsert(table string) string {
	if d.name == "mysql" {
		return "INSERT INTO " + table + " () VALUES ()"
	}
	return "INSERT INTO " + table + " DEFAULT VALUES"
}
