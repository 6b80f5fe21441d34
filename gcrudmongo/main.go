// Package gcrudmongo provides a MongoDB adapter for gcrud. Each entity lives
// in its own collection with the primary key stored as _id; many-to-many
// links are documents in a join collection named after the relation.
package gcrudmongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements gcrud.Provider using MongoDB
type Provider struct {
	client   *mongo.Client
	database *mongo.Database
	schema   *gcrud.SchemaRegistry
	logger   *zap.Logger
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

// New wraps a connected client. Stores read and write the named database.
func New(client *mongo.Client, database string, schema *gcrud.SchemaRegistry, opts ...Option) *Provider {
	p := &Provider{
		client:   client,
		database: client.Database(database),
		schema:   schema,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory implements gcrud.Factory
type Factory struct{}

// Create connects to MongoDB, pings the primary and creates the unique
// indexes of the schema unless options.mongo.ensure_indexes is false
func (f *Factory) Create(config gcrud.Config, schema *gcrud.SchemaRegistry) (gcrud.Provider, error) {
	if schema == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "mongo provider needs a schema")
	}

	clientOpts := options.Client().ApplyURI(f.buildConnectionURI(config))
	ensureIndexes := true
	if raw, ok := config.Options["mongo"]; ok {
		if mongoOpts, ok := raw.(map[string]interface{}); ok {
			f.applyClientOptions(clientOpts, mongoOpts)
			if v, ok := mongoOpts["ensure_indexes"].(bool); ok {
				ensureIndexes = v
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to connect to MongoDB", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "failed to ping MongoDB", err)
	}

	p := New(client, config.Database, schema)
	if ensureIndexes {
		if err := p.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
	}
	return p, nil
}

// SupportedDrivers returns the list of supported database drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"mongodb", "mongo"}
}

// buildConnectionURI builds MongoDB connection URI
func (f *Factory) buildConnectionURI(config gcrud.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	uri := "mongodb://"
	if config.Username != "" {
		uri += config.Username
		if config.Password != "" {
			uri += ":" + config.Password
		}
		uri += "@"
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	uri += fmt.Sprintf("%s:%d", host, port)

	if config.Database != "" {
		uri += "/" + config.Database
	}

	if config.SSL.Enabled {
		uri += "?tls=true"
		if config.SSL.CAFile != "" {
			uri += "&tlsCAFile=" + config.SSL.CAFile
		}
		if config.SSL.CertFile != "" {
			uri += "&tlsCertificateKeyFile=" + config.SSL.CertFile
		}
	}
	return uri
}

// applyClientOptions applies the pool settings under options.mongo.
// Durations are given as strings such as "5m".
func (f *Factory) applyClientOptions(clientOpts *options.ClientOptions, mongoOpts map[string]interface{}) {
	if maxPoolSize, ok := asInt(mongoOpts["max_pool_size"]); ok && maxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(maxPoolSize))
	}
	if minPoolSize, ok := asInt(mongoOpts["min_pool_size"]); ok && minPoolSize > 0 {
		clientOpts.SetMinPoolSize(uint64(minPoolSize))
	}
	switch v := mongoOpts["max_idle_time"].(type) {
	case time.Duration:
		clientOpts.SetMaxConnIdleTime(v)
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			clientOpts.SetMaxConnIdleTime(d)
		}
	}
	if appName, ok := mongoOpts["app_name"].(string); ok && appName != "" {
		clientOpts.SetAppName(appName)
	}
}

// Store returns the store for entity
func (p *Provider) Store(entity string) (gcrud.EntityStore, error) {
	desc, err := p.schema.Entity(entity)
	if err != nil {
		return nil, err
	}
	if _, ok := desc.Field(desc.PrimaryKeyField()); !ok {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("entity %s needs a single primary key field", entity))
	}
	return &Store{
		p:      p,
		entity: desc,
		tr:     &translator{reg: p.schema, distinct: p.distinct},
		logger: p.logger.With(zap.String("entity", desc.Name)),
	}, nil
}

func (p *Provider) distinct(ctx context.Context, collection, field string, filter bson.M) ([]any, error) {
	p.logger.Debug("mongo distinct", zap.String("collection", collection), zap.String("field", field))
	values, err := p.database.Collection(collection).Distinct(ctx, field, filter)
	if err != nil {
		return nil, convertMongoError(err)
	}
	return values, nil
}

// EnsureIndexes creates a unique index per unique field and compound unique
// constraint, and one per join collection on its two columns
func (p *Provider) EnsureIndexes(ctx context.Context) error {
	joins := map[string]bool{}
	for _, name := range p.schema.Entities() {
		entity, err := p.schema.Entity(name)
		if err != nil {
			return err
		}

		var models []mongo.IndexModel
		for _, f := range entity.Fields {
			if f.IsUnique && !f.IsRelation && f.Name != entity.PrimaryKeyField() {
				models = append(models, mongo.IndexModel{
					Keys:    bson.D{{Key: f.Column(), Value: 1}},
					Options: options.Index().SetUnique(true),
				})
			}
		}
		for _, fields := range entity.UniqueFields {
			keys := bson.D{}
			for _, name := range fields {
				if f, ok := entity.Field(name); ok {
					keys = append(keys, bson.E{Key: key(entity, f), Value: 1})
				}
			}
			if len(keys) > 0 {
				models = append(models, mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)})
			}
		}
		if len(models) > 0 {
			if _, err := p.database.Collection(entity.Table()).Indexes().CreateMany(ctx, models); err != nil {
				return convertMongoError(err)
			}
		}

		for _, f := range entity.Fields {
			if !f.IsRelation {
				continue
			}
			info, err := p.schema.Relation(entity.Name, f.Name)
			if err != nil {
				return err
			}
			if info.Kind != gcrud.RelationKindManyToMany || joins[info.JoinTable] {
				continue
			}
			joins[info.JoinTable] = true
			_, err = p.database.Collection(info.JoinTable).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys:    bson.D{{Key: "A", Value: 1}, {Key: "B", Value: 1}},
				Options: options.Index().SetUnique(true),
			})
			if err != nil {
				return convertMongoError(err)
			}
		}
	}
	return nil
}

// Health checks the database connection health
func (p *Provider) Health(ctx context.Context) error {
	return convertMongoError(p.client.Ping(ctx, readpref.Primary()))
}

// Close closes the database connection
func (p *Provider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

// SupportedFeatures returns the list of supported features
func (p *Provider) SupportedFeatures() []gcrud.Feature {
	return []gcrud.Feature{
		gcrud.FeatureRelations,
		gcrud.FeatureAggregation,
		gcrud.FeatureCaseInsensitive,
	}
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() gcrud.ProviderInfo {
	return gcrud.ProviderInfo{
		Name:         "MongoDB",
		Version:      "1.0.0",
		DatabaseType: gcrud.DatabaseTypeDocument,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Registration
// =====================================

func init() {
	gcrud.RegisterProvider("mongo", &Factory{})
}
