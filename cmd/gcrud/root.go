package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
	_ "github.com/lemmego/gcrud/gcrudbun"
	_ "github.com/lemmego/gcrud/gcrudgorm"
	_ "github.com/lemmego/gcrud/gcrudmem"
	_ "github.com/lemmego/gcrud/gcrudmongo"
	"github.com/lemmego/gcrud/gcrudredis"
	"github.com/lemmego/gcrud/gcrudschema"
)

// rootOptions holds the global flags
type rootOptions struct {
	ConfigPath string
	SchemaPath string
	Adapter    string
	Verbose    bool

	config *gcrud.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gcrud",
		Short:         "Schema-aware search and CRUD over a configured database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./gcrud.yaml)")
	cmd.PersistentFlags().StringVar(&opts.SchemaPath, "schema", "", "schema file, overrides the config")
	cmd.PersistentFlags().StringVar(&opts.Adapter, "adapter", "", "adapter, overrides the config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := gcrud.LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.SchemaPath != "" {
		cfg.Schema = o.SchemaPath
	}
	if o.Adapter != "" {
		cfg.Adapter = o.Adapter
	}
	o.config = cfg

	o.logger = zap.NewNop()
	if o.Verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		o.logger = logger
	}
	return nil
}

func (o *rootOptions) schema(ctx context.Context) (*gcrud.SchemaRegistry, error) {
	source, err := gcrudschema.FileSource(o.config.Schema)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("loading schema", zap.String("source", source.Name()))
	return gcrud.NewSchemaProvider(source).LoadSchema(ctx)
}

// session is an opened provider plus the notifier its services publish to
type session struct {
	registry *gcrud.SchemaRegistry
	provider gcrud.Provider
	notifier *gcrud.Notifier
	closers  []func() error
	opts     *rootOptions
}

// open loads the schema and opens the configured adapter. Change events are
// forwarded to Redis when events.redis_addr is set.
func (o *rootOptions) open(ctx context.Context) (*session, error) {
	registry, err := o.schema(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := gcrud.Open(o.config.Adapter, *o.config, registry)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("provider opened",
		zap.String("adapter", o.config.Adapter),
		zap.String("provider", provider.ProviderInfo().Name))

	s := &session{
		registry: registry,
		provider: provider,
		notifier: gcrud.NewNotifier(
			gcrud.WithNotifierLogger(o.logger),
			gcrud.WithBufferSize(o.config.Events.BufferSize),
		),
		opts: o,
	}
	s.closers = append(s.closers, provider.Close)

	if o.config.Events.RedisAddr != "" {
		client, err := gcrudredis.Connect(ctx, o.config.Events)
		if err != nil {
			s.close()
			return nil, err
		}
		pub := gcrudredis.NewPublisher(client,
			gcrudredis.WithPrefix(o.config.Events.ChannelPrefix),
			gcrudredis.WithLogger(o.logger))
		pub.Attach(s.notifier)
		s.closers = append(s.closers, client.Close)
	}
	return s, nil
}

func (s *session) service(entity string) (*gcrud.Service, error) {
	store, err := s.provider.Store(entity)
	if err != nil {
		return nil, err
	}
	return gcrud.NewService(s.registry, entity, store,
		gcrud.WithLogger(s.opts.logger),
		gcrud.WithNotifier(s.notifier),
		gcrud.WithDefaults(gcrud.SearchDefaultsFromConfig(s.opts.config.Search)),
	)
}

// close drains pending events before the publisher's client goes away
func (s *session) close() {
	s.notifier.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.opts.logger.Warn("close failed", zap.Error(err))
		}
	}
}

// readJSON decodes path, or stdin when path is "-"
func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, fmt.Sprintf("failed to open %s", path), err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, fmt.Sprintf("failed to decode %s", path), err)
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseID reads an id flag as the type of the entity's primary key
func parseID(entity *gcrud.EntityDescriptor, raw string) (any, error) {
	f, ok := entity.Field(entity.PrimaryKeyField())
	if !ok {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("entity %s has no single primary key", entity.Name))
	}
	switch f.Type {
	case gcrud.FieldTypeInt, gcrud.FieldTypeBigInt:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation,
				fmt.Sprintf("id %q is not an integer", raw), err)
		}
		return id, nil
	}
	return raw, nil
}
