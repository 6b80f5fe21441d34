// Package gcrudgorm provides a GORM adapter for gcrud. Queries are rendered by
// gcrudsql and run as raw statements through GORM, which rebinds placeholders
// for the configured driver.
package gcrudgorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lemmego/gcrud"
	"github.com/lemmego/gcrud/gcrudsql"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements gcrud.Provider using GORM
type Provider struct {
	db      *gorm.DB
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

// New wraps an open GORM handle. driver selects the SQL dialect.
func New(db *gorm.DB, driver string, schema *gcrud.SchemaRegistry, opts ...Option) (*Provider, error) {
	dialect, err := gcrudsql.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	p := &Provider{db: db, dialect: dialect, schema: schema, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Factory implements gcrud.Factory
type Factory struct{}

// Create opens a database connection and returns a GORM provider over it
func (f *Factory) Create(config gcrud.Config, schema *gcrud.SchemaRegistry) (gcrud.Provider, error) {
	if schema == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "gorm provider needs a schema")
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}
	if options, ok := config.Options["gorm"]; ok {
		if gormOpts, ok := options.(map[string]interface{}); ok {
			if logLevel, ok := gormOpts["log_level"].(string); ok {
				switch logLevel {
				case "silent":
					gormConfig.Logger = logger.Default.LogMode(logger.Silent)
				case "error":
					gormConfig.Logger = logger.Default.LogMode(logger.Error)
				case "warn":
					gormConfig.Logger = logger.Default.LogMode(logger.Warn)
				case "info":
					gormConfig.Logger = logger.Default.LogMode(logger.Info)
				}
			}
			if prepare, ok := gormOpts["prepare_stmt"].(bool); ok {
				gormConfig.PrepareStmt = prepare
			}
		}
	}

	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(buildPostgresDSN(config))
	case "mysql":
		dialector = mysql.Open(buildMySQLDSN(config))
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(config.Database)
	case "sqlserver", "mssql":
		dialector = sqlserver.Open(buildSQLServerDSN(config))
	default:
		return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported driver: %s", config.Driver))
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to connect to database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to get underlying sql.DB", err)
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

	return New(db, config.Driver, schema)
}

// SupportedDrivers returns the list of supported database drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3", "sqlserver", "mssql"}
}

// DB returns the underlying GORM handle
func (p *Provider) DB() *gorm.DB {
	return p.db
}

// Store returns the store for entity
func (p *Provider) Store(entity string) (gcrud.EntityStore, error) {
	return gcrudsql.NewStore(&executor{db: p.db}, p.dialect, p.schema, entity, gcrudsql.WithLogger(p.logger))
}

// Health checks the database connection health
func (p *Provider) Health(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
	return convertGormError(sqlDB.PingContext(ctx))
}

// Close closes the database connection
func (p *Provider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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
		Name:         "GORM",
		Version:      "1.0.0",
		DatabaseType: gcrud.DatabaseTypeSQL,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Executor
// =====================================

// executor runs rendered statements through GORM
type executor struct {
	db *gorm.DB
}

func (e *executor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	var rows []map[string]any
	if err := e.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, convertGormError(err)
	}
	return rows, nil
}

func (e *executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result := e.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, convertGormError(result.Error)
	}
	return result.RowsAffected, nil
}

func (e *executor) Transaction(ctx context.Context, fn func(tx gcrudsql.Executor) error) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&executor{db: tx})
	})
	return convertGormError(err)
}

// =====================================
// Error Handling
// =====================================

// convertGormError converts GORM errors to gcrud errors
func convertGormError(err error) error {
	if err == nil {
		return nil
	}
	var typed gcrud.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeNotFound, "record not found", err)
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeStore, "invalid transaction", err)
	case errors.Is(err, gorm.ErrNotImplemented):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeUnsupported, "operation not implemented", err)
	case errors.Is(err, gorm.ErrMissingWhereClause):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "missing where clause", err)
	case errors.Is(err, gorm.ErrInvalidData):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "invalid data", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeDuplicate, "duplicate key violation", err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConstraint, "constraint violation", err)
	}
	return gcrudsql.ConvertError(err)
}

// =====================================
// Connection Strings
// =====================================

// buildPostgresDSN builds a PostgreSQL DSN
func buildPostgresDSN(config gcrud.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database)

	if config.SSL.Enabled {
		dsn += " sslmode=" + config.SSL.Mode
		if config.SSL.CertFile != "" {
			dsn += " sslcert=" + config.SSL.CertFile
		}
		if config.SSL.KeyFile != "" {
			dsn += " sslkey=" + config.SSL.KeyFile
		}
		if config.SSL.CAFile != "" {
			dsn += " sslrootcert=" + config.SSL.CAFile
		}
	} else {
		dsn += " sslmode=disable"
	}
	// stores read and write DateTime fields as UTC
	dsn += " TimeZone=UTC"

	return dsn
}

// buildMySQLDSN builds a MySQL DSN
func buildMySQLDSN(config gcrud.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		config.Username, config.Password, config.Host, config.Port, config.Database)

	if config.SSL.Enabled {
		dsn += "&tls=" + config.SSL.Mode
	}

	return dsn
}

// buildSQLServerDSN builds a SQL Server DSN
func buildSQLServerDSN(config gcrud.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		config.Username, config.Password, config.Host, config.Port, config.Database)
}

// =====================================
// Registration
// =====================================

// init registers the GORM provider factory
func init() {
	gcrud.RegisterProvider("gorm", &Factory{})
}
