package gcrud

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =====================================
// Repository Service
// =====================================

// Service provides CRUD and search for one entity over an EntityStore.
// It is safe for concurrent use; all per-call state lives in the call.
type Service struct {
	registry *SchemaRegistry
	entity   *EntityDescriptor
	store    EntityStore
	compiler *Compiler
	notifier *Notifier
	logger   *zap.Logger
	defaults SearchDefaults
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets where change events are published. Without one no events are emitted.
func WithNotifier(n *Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithDefaults overrides the search defaults
func WithDefaults(d SearchDefaults) ServiceOption {
	return func(s *Service) {
		s.defaults = d
	}
}

// NewService creates a service for entity. The entity must be in registry.
func NewService(registry *SchemaRegistry, entity string, store EntityStore, opts ...ServiceOption) (*Service, error) {
	desc, err := registry.Entity(entity)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, NewError(ErrorTypeValidation, fmt.Sprintf("nil store for entity %q", entity))
	}

	s := &Service{
		registry: registry,
		entity:   desc,
		store:    store,
		compiler: NewCompiler(registry),
		logger:   zap.NewNop(),
		defaults: DefaultSearchDefaults,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("entity", desc.Name))
	return s, nil
}

// Entity returns the descriptor the service operates on
func (s *Service) Entity() *EntityDescriptor {
	return s.entity
}

// Create stores data as given and returns the created record
func (s *Service) Create(ctx context.Context, data Record) (Record, error) {
	result, err := s.store.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	s.publish(ChangeEvent{Kind: EventCreate, Data: data, Result: result})
	return result, nil
}

// DeleteItem deletes the record with the given primary key and returns the
// key fields of the deleted record
func (s *Service) DeleteItem(ctx context.Context, id any) (Record, error) {
	pk := s.entity.PrimaryKeyField()
	result, err := s.store.Delete(ctx, DeleteArgs{
		Where:  s.byID(id),
		Select: Selection{pk: true},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ChangeEvent{Kind: EventDelete, RecordID: id, Result: result})
	return result, nil
}

// GetOne returns the record with the given primary key, or an empty record when there is none
func (s *Service) GetOne(ctx context.Context, id any) (Record, error) {
	result, err := s.store.FindFirst(ctx, s.byID(id))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return Record{}, nil
	}
	return result, nil
}

// Update applies data to the record with the given primary key. Scalar
// fields are written as given; relation fields are rewritten per opts.
func (s *Service) Update(ctx context.Context, id any, data Record, opts ...UpdateOptions) (Record, error) {
	var o UpdateOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	payload := BuildUpdatePayload(s.entity, data, o)

	result, err := s.store.Update(ctx, UpdateArgs{Where: s.byID(id), Data: payload})
	if err != nil {
		return nil, err
	}
	s.publish(ChangeEvent{Kind: EventUpdate, RecordID: id, InputData: data, Result: result})
	return result, nil
}

// GetAll runs a paginated search. The count and the page use the same
// predicate but are separate store calls, so under concurrent writes the
// total may not match the page exactly.
func (s *Service) GetAll(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	args, err := s.Compile(req)
	if err != nil {
		return nil, err
	}

	pk := s.entity.PrimaryKeyField()
	agg, err := s.store.Aggregate(ctx, AggregateArgs{Where: args.Where, Count: []string{pk}})
	if err != nil {
		return nil, err
	}
	items, err := s.store.FindMany(ctx, args)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Record{}
	}

	var total int64
	if agg != nil {
		total = agg.Count[pk]
	}
	return &SearchResult{Total: total, Items: items}, nil
}

// Count returns the number of records matching the OR of groups
func (s *Service) Count(ctx context.Context, groups []FilterGroup) (int64, error) {
	where, err := s.compiler.CompileDisjunction(s.entity.Name, groups)
	if err != nil {
		return 0, err
	}
	pk := s.entity.PrimaryKeyField()
	agg, err := s.store.Aggregate(ctx, AggregateArgs{Where: where, Count: []string{pk}})
	if err != nil {
		return 0, err
	}
	if agg == nil {
		return 0, nil
	}
	return agg.Count[pk], nil
}

// Compile validates req and turns it into store arguments without touching the store
func (s *Service) Compile(req SearchRequest) (FindManyArgs, error) {
	name := s.entity.Name

	if req.Offset < 0 {
		return FindManyArgs{}, NewError(ErrorTypeValidation, fmt.Sprintf("negative offset %d", req.Offset))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaults.Limit
	}

	orderBy := req.OrderBy
	if len(orderBy) == 0 {
		field := s.defaults.OrderField
		if field == "" {
			field = s.entity.PrimaryKeyField()
		}
		orderBy = OrderBy{{Field: field, Direction: s.defaults.Direction}}
	}
	for _, o := range orderBy {
		f, err := s.registry.Field(name, o.Field)
		if err != nil {
			return FindManyArgs{}, err
		}
		if f.IsRelation {
			return FindManyArgs{}, ErrInvalidFieldReference(name, o.Field)
		}
	}

	fields := req.Fields
	if fields == nil {
		fields = s.entity.DisplayFields
	}
	if err := s.compiler.ValidateFields(name, fields); err != nil {
		return FindManyArgs{}, err
	}

	var include []string
	for _, rel := range req.Include {
		f, err := s.registry.Field(name, rel)
		if err != nil {
			return FindManyArgs{}, err
		}
		if !f.IsRelation {
			return FindManyArgs{}, ErrInvalidFieldReference(name, rel)
		}
		include = append(include, rel)
	}

	where, err := s.compiler.CompileDisjunction(name, req.Filters)
	if err != nil {
		return FindManyArgs{}, err
	}

	s.logger.Debug("compiled search",
		zap.Int("groups", len(req.Filters)),
		zap.Int("offset", req.Offset),
		zap.Int("limit", limit),
		zap.Any("where", where))

	return FindManyArgs{
		Where:   where,
		Select:  BuildSelection(fields),
		Include: include,
		OrderBy: orderBy,
		Skip:    req.Offset,
		Take:    limit,
	}, nil
}

func (s *Service) byID(id any) Predicate {
	return Predicate{s.entity.PrimaryKeyField(): id}
}

func (s *Service) publish(ev ChangeEvent) {
	if s.notifier == nil {
		return
	}
	ev.Entity = s.entity.Name
	s.notifier.Publish(ev)
}
