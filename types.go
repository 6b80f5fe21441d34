package gcrud

import "time"

// =====================================
// Core Types and Constants
// =====================================

// Config represents database connection configuration
type Config struct {
	// Registered adapter that opens the connection ("gorm", "bun", "mongo", "memory")
	Adapter string `json:"adapter" yaml:"adapter" mapstructure:"adapter"`

	// Connection details
	Driver        string `json:"driver" yaml:"driver" mapstructure:"driver"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url" mapstructure:"connection_url"`
	Host          string `json:"host" yaml:"host" mapstructure:"host"`
	Port          int    `json:"port" yaml:"port" mapstructure:"port"`
	Database      string `json:"database" yaml:"database" mapstructure:"database"`
	Username      string `json:"username" yaml:"username" mapstructure:"username"`
	Password      string `json:"password" yaml:"password" mapstructure:"password"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// Adapter specific options, keyed by adapter name ("gorm", "bun", "mongo")
	Options map[string]interface{} `json:"options" yaml:"options" mapstructure:"options"`

	// SSL/TLS configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl" mapstructure:"ssl"`

	// Schema file the registry is loaded from (.prisma, .yaml, .yml)
	Schema string `json:"schema" yaml:"schema" mapstructure:"schema"`

	Search SearchConfig `json:"search" yaml:"search" mapstructure:"search"`
	Events EventsConfig `json:"events" yaml:"events" mapstructure:"events"`
}

// SSLConfig represents SSL/TLS configuration
type SSLConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Mode     string `json:"mode" yaml:"mode" mapstructure:"mode"`
	CertFile string `json:"cert_file" yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file" mapstructure:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file" mapstructure:"ca_file"`
}

// SearchConfig holds the defaults applied to a search request that leaves them unset
type SearchConfig struct {
	DefaultLimit     int           `json:"default_limit" yaml:"default_limit" mapstructure:"default_limit"`
	DefaultOrder     string        `json:"default_order" yaml:"default_order" mapstructure:"default_order"`
	DefaultDirection SortDirection `json:"default_direction" yaml:"default_direction" mapstructure:"default_direction"`
}

// EventsConfig configures change event delivery
type EventsConfig struct {
	BufferSize    int    `json:"buffer_size" yaml:"buffer_size" mapstructure:"buffer_size"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	ChannelPrefix string `json:"channel_prefix" yaml:"channel_prefix" mapstructure:"channel_prefix"`
}

// ProviderInfo contains information about the provider
type ProviderInfo struct {
	Name         string
	Version      string
	DatabaseType DatabaseType
	Features     []Feature
}

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypeSQL      DatabaseType = "sql"
	DatabaseTypeDocument DatabaseType = "document"
	DatabaseTypeMemory   DatabaseType = "memory"
)

// Feature represents a store capability
type Feature string

const (
	FeatureTransactions    Feature = "transactions"
	FeatureRelations       Feature = "relations"
	FeatureAggregation     Feature = "aggregation"
	FeatureCaseInsensitive Feature = "case_insensitive"
	FeatureRawSQL          Feature = "raw_sql"
)

// FieldType is the scalar or relation type of an entity field
type FieldType string

const (
	FieldTypeInt      FieldType = "Int"
	FieldTypeBigInt   FieldType = "BigInt"
	FieldTypeFloat    FieldType = "Float"
	FieldTypeDecimal  FieldType = "Decimal"
	FieldTypeString   FieldType = "String"
	FieldTypeBoolean  FieldType = "Boolean"
	FieldTypeDateTime FieldType = "DateTime"
	FieldTypeBytes    FieldType = "Bytes"
	FieldTypeJSON     FieldType = "Json"
	FieldTypeRelation FieldType = "Relation"
)

// IsNumeric reports whether the type supports ordering comparisons as a number
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeInt, FieldTypeBigInt, FieldTypeFloat, FieldTypeDecimal:
		return true
	}
	return false
}

// IsScalar reports whether t is a known non-relation type
func (t FieldType) IsScalar() bool {
	switch t {
	case FieldTypeInt, FieldTypeBigInt, FieldTypeFloat, FieldTypeDecimal,
		FieldTypeString, FieldTypeBoolean, FieldTypeDateTime, FieldTypeBytes, FieldTypeJSON:
		return true
	}
	return false
}

// FilterMode selects how a filter value is compared against a field
type FilterMode string

const (
	ModeEqual    FilterMode = "EQ"  // equals / contains / in
	ModeExclude  FilterMode = "EX"  // negation of EQ
	ModeLess     FilterMode = "LT"  // strictly less than
	ModeGreater  FilterMode = "GT"  // strictly greater than
	ModeEmpty    FilterMode = "EM"  // null, optional fields only
	ModeNotEmpty FilterMode = "NEM" // not null, optional fields only
	ModeRange    FilterMode = "RG"  // inclusive [a, b]
)

// FilterModes lists every supported mode
var FilterModes = []FilterMode{
	ModeEqual, ModeExclude, ModeLess, ModeGreater, ModeEmpty, ModeNotEmpty, ModeRange,
}

// Valid reports whether m is one of the supported modes
func (m FilterMode) Valid() bool {
	switch m {
	case ModeEqual, ModeExclude, ModeLess, ModeGreater, ModeEmpty, ModeNotEmpty, ModeRange:
		return true
	}
	return false
}

// SortDirection represents sort direction
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// RelationOperation is the nested write applied to a relation field on update
type RelationOperation string

const (
	RelationSet            RelationOperation = "set"
	RelationDisconnect     RelationOperation = "disconnect"
	RelationDelete         RelationOperation = "delete"
	RelationConnect        RelationOperation = "connect"
	RelationDisconnectMany RelationOperation = "disconnectMany"
	RelationDeleteMany     RelationOperation = "deleteMany"
	RelationCreate         RelationOperation = "create"
	RelationCreateMany     RelationOperation = "createMany"
	RelationUpdate         RelationOperation = "update"
	RelationUpdateMany     RelationOperation = "updateMany"
	RelationUpsert         RelationOperation = "upsert"
	RelationUpsertMany     RelationOperation = "upsertMany"
)

// NullRelationPolicy decides what an explicit nil relation value means on update
type NullRelationPolicy int

const (
	// NullRelationDrop leaves the relation untouched
	NullRelationDrop NullRelationPolicy = iota
	// NullRelationDisconnect clears the relation
	NullRelationDisconnect
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeSchemaNotFound        ErrorType = "schema_not_found"
	ErrorTypeUnknownEntity         ErrorType = "unknown_entity"
	ErrorTypeUnsupportedFilterMode ErrorType = "unsupported_filter_mode"
	ErrorTypeInvalidFieldReference ErrorType = "invalid_field_reference"
	ErrorTypeNotFound              ErrorType = "not_found"
	ErrorTypeStore                 ErrorType = "store"
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeDuplicate             ErrorType = "duplicate"
	ErrorTypeConstraint            ErrorType = "constraint"
	ErrorTypeConnection            ErrorType = "connection"
	ErrorTypeTimeout               ErrorType = "timeout"
	ErrorTypeUnsupported           ErrorType = "unsupported"
	ErrorTypeInternal              ErrorType = "internal"
)
