// Package gcrudbun provides a Bun adapter for gcrud. Statements rendered by
// gcrudsql run as raw Bun queries; Bun formats the arguments for its dialect.
package gcrudbun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
	"github.com/lemmego/gcrud/gcrudsql"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements gcrud.Provider using Bun
type Provider struct {
	db      *bun.DB
	dialect gcrudsql.Dialect
	schema  *gcrud.SchemaRegistry
	logger  *zap.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithLogger sets the logger handed to every store
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New wraps an open Bun handle. The SQL dialect follows the Bun dialect.
func New(db *bun.DB, schema *gcrud.SchemaRegistry, opts ...Option) (*Provider, error) {
	d, err := dialectOf(db)
	if err != nil {
		return nil, err
	}
	p := &Provider{db: db, dialect: d, schema: schema, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func dialectOf(db *bun.DB) (gcrudsql.Dialect, error) {
	switch db.Dialect().Name() {
	case dialect.PG:
		return gcrudsql.Postgres, nil
	case dialect.MySQL:
		return gcrudsql.MySQL, nil
	case dialect.SQLite:
		return gcrudsql.SQLite, nil
	case dialect.MSSQL:
		return gcrudsql.SQLServer, nil
	}
	return gcrudsql.Dialect{}, gcrud.NewError(gcrud.ErrorTypeUnsupported,
		fmt.Sprintf("unsupported bun dialect: %s", db.Dialect().Name()))
}

// Factory implements gcrud.Factory
type Factory struct{}

// Create opens a database connection and returns a Bun provider over it
func (f *Factory) Create(config gcrud.Config, schema *gcrud.SchemaRegistry) (gcrud.Provider, error) {
	if schema == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "bun provider needs a schema")
	}

	var sqlDB *sql.DB
	var err error

	driver := strings.ToLower(config.Driver)
	switch driver {
	case "postgres", "postgresql":
		sqlDB, err = createPostgresConnection(config)
	case "pgdriver":
		sqlDB, err = createPgDriverConnection(config)
	case "mysql":
		sqlDB, err = createMySQLConnection(config)
	case "sqlite", "sqlite3":
		sqlDB, err = createSQLiteConnection(config)
	default:
		return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported driver: %s", config.Driver))
	}
	if err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to connect to database", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	var bunDB *bun.DB
	switch driver {
	case "postgres", "postgresql", "pgdriver":
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	case "sqlite", "sqlite3":
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if options, ok := config.Options["bun"]; ok {
		if bunOpts, ok := options.(map[string]interface{}); ok {
			if logLevel, ok := bunOpts["log_level"].(string); ok && logLevel != "silent" {
				bunDB.AddQueryHook(bundebug.NewQueryHook(
					bundebug.WithVerbose(logLevel == "debug"),
				))
			}
		}
	}

	return New(bunDB, schema)
}

// SupportedDrivers returns the list of supported database drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"postgres", "postgresql", "pgdriver", "mysql", "sqlite", "sqlite3"}
}

// DB returns the underlying Bun handle
func (p *Provider) DB() *bun.DB {
	return p.db
}

// Store returns the store for entity
func (p *Provider) Store(entity string) (gcrud.EntityStore, error) {
	return gcrudsql.NewStore(&executor{db: p.db}, p.dialect, p.schema, entity, gcrudsql.WithLogger(p.logger))
}

// Health checks the database connection health
func (p *Provider) Health(ctx context.Context) error {
	return convertBunError(p.db.PingContext(ctx))
}

// Close closes the database connection
func (p *Provider) Close() error {
	return p.db.Close()
}

// SupportedFeatures returns the list of supported features
func (p *Provider) SupportedFeatures() []gcrud.Feature {
	return []gcrud.Feature{
		gcrud.FeatureTransactions,
		gcrud.FeatureRelations,
		gcrud.FeatureAggregation,
		gcrud.FeatureCaseInsensitive,
		gcrud.FeatureRawSQL,
	}
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() gcrud.ProviderInfo {
	return gcrud.ProviderInfo{
		Name:         "Bun",
		Version:      "1.0.0",
		DatabaseType: gcrud.DatabaseTypeSQL,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Executor
// =====================================

// executor runs rendered statements on a bun.DB or inside a bun.Tx
type executor struct {
	db bun.IDB
}

func (e *executor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	var rows []map[string]interface{}
	if err := e.db.NewRaw(query, args...).Scan(ctx, &rows); err != nil {
		return nil, convertBunError(err)
	}
	return rows, nil
}

func (e *executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.db.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, convertBunError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, convertBunError(err)
	}
	return n, nil
}

func (e *executor) Transaction(ctx context.Context, fn func(tx gcrudsql.Executor) error) error {
	err := e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&executor{db: tx})
	})
	return convertBunError(err)
}

// =====================================
// Connections
// =====================================

// createPostgresConnection creates a PostgreSQL connection through lib/pq
func createPostgresConnection(config gcrud.Config) (*sql.DB, error) {
	return sql.Open("postgres", buildPostgresDSN(config))
}

// createPgDriverConnection creates a PostgreSQL connection using pgdriver
func createPgDriverConnection(config gcrud.Config) (*sql.DB, error) {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(buildPostgresDSN(config)))
	return sql.OpenDB(connector), nil
}

// createMySQLConnection creates a MySQL connection
func createMySQLConnection(config gcrud.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.Open("mysql", config.ConnectionURL)
	}

	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = config.Username
	mysqlConfig.Passwd = config.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	mysqlConfig.DBName = config.Database
	mysqlConfig.ParseTime = true
	if config.SSL.Enabled {
		mysqlConfig.TLSConfig = config.SSL.Mode
	}

	return sql.Open("mysql", mysqlConfig.FormatDSN())
}

// createSQLiteConnection creates a SQLite connection
func createSQLiteConnection(config gcrud.Config) (*sql.DB, error) {
	return sql.Open("sqlite3", config.Database)
}

// buildPostgresDSN builds a PostgreSQL URL
func buildPostgresDSN(config gcrud.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		config.Username, config.Password, config.Host, config.Port, config.Database)

	params := []string{}
	if config.SSL.Enabled {
		params = append(params, "sslmode="+config.SSL.Mode)
		if config.SSL.CertFile != "" {
			params = append(params, "sslcert="+config.SSL.CertFile)
		}
		if config.SSL.KeyFile != "" {
			params = append(params, "sslkey="+config.SSL.KeyFile)
		}
		if config.SSL.CAFile != "" {
			params = append(params, "sslrootcert="+config.SSL.CAFile)
		}
	} else {
		params = append(params, "sslmode=disable")
	}

	return dsn + "?" + strings.Join(params, "&")
}

// =====================================
// Error Handling
// =====================================

// convertBunError converts driver errors seen through Bun to gcrud errors.
// SQLSTATE and MySQL error numbers are checked before message text.
func convertBunError(err error) error {
	if err == nil {
		return nil
	}
	var typed gcrud.Error
	if errors.As(err, &typed) {
		return err
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case "23505":
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeDuplicate, "duplicate key violation", err)
		case "23503", "23502", "23514":
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeConstraint, "constraint violation", err)
		case "57014":
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation timeout", err)
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeDuplicate, "duplicate key violation", err)
		case 1451, 1452, 1048:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeConstraint, "constraint violation", err)
		}
	}

	return gcrudsql.ConvertError(err)
}

// =====================================
// Registration
// =====================================

// init registers the Bun provider factory
func init() {
	gcrud.RegisterProvider("bun", &Factory{})
}
