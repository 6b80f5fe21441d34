package gcrudsql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

// Store implements gcrud.EntityStore over an Executor
type Store struct {
	exec    Executor
	reg     *gcrud.SchemaRegistry
	dialect Dialect
	entity  *gcrud.EntityDescriptor
	logger  *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger logs every rendered statement at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns the store for entity
func NewStore(exec Executor, dialect Dialect, reg *gcrud.SchemaRegistry, entity string, opts ...Option) (*Store, error) {
	desc, err := reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	if _, ok := desc.Field(desc.PrimaryKeyField()); !ok {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("entity %s needs a single primary key field", entity))
	}
	s := &Store{exec: exec, reg: reg, dialect: dialect, entity: desc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("entity", desc.Name), zap.String("dialect", dialect.Name()))
	return s, nil
}

// Create inserts data. Relation fields take a directive such as {connect: [{id: 1}]}.
func (s *Store) Create(ctx context.Context, data gcrud.Record) (gcrud.Record, error) {
	var out gcrud.Record
	err := s.exec.Transaction(ctx, func(tx Executor) error {
		scalars, relations, err := s.split(data)
		if err != nil {
			return err
		}
		s.fillDefaults(scalars)
		later, err := s.resolveForeignKeys(ctx, tx, scalars, relations)
		if err != nil {
			return err
		}

		id, err := s.insert(ctx, tx, scalars)
		if err != nil {
			return err
		}
		if err := s.applyRelations(ctx, tx, id, later); err != nil {
			return err
		}
		out, err = s.fetch(ctx, tx, id, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindFirst returns the first match in primary key order
func (s *Store) FindFirst(ctx context.Context, where gcrud.Predicate) (gcrud.Record, error) {
	rows, err := s.findMany(ctx, s.exec, gcrud.FindManyArgs{Where: where, Take: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FindMany filters, sorts, pages and projects
func (s *Store) FindMany(ctx context.Context, args gcrud.FindManyArgs) ([]gcrud.Record, error) {
	return s.findMany(ctx, s.exec, args)
}

// Update writes scalar values and relation directives to the first match
func (s *Store) Update(ctx context.Context, args gcrud.UpdateArgs) (gcrud.Record, error) {
	var out gcrud.Record
	err := s.exec.Transaction(ctx, func(tx Executor) error {
		id, err := s.firstID(ctx, tx, args.Where)
		if err != nil {
			return err
		}

		scalars, relations, err := s.split(args.Data)
		if err != nil {
			return err
		}
		if _, ok := scalars[s.entity.PrimaryKeyField()]; ok {
			return gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("%s.%s is the primary key and cannot be updated", s.entity.Name, s.entity.PrimaryKeyField()))
		}
		for _, f := range s.entity.Fields {
			if f.IsUpdatedAt {
				scalars[f.Name] = time.Now().UTC()
			}
		}
		later, err := s.resolveForeignKeys(ctx, tx, scalars, relations)
		if err != nil {
			return err
		}

		if len(scalars) > 0 {
			b := newBuilder(s.reg, s.dialect)
			var sets []string
			for _, name := range gcrud.SortedKeys(scalars) {
				f, _ := s.entity.Field(name)
				m, err := b.bind(f, scalars[name])
				if err != nil {
					return err
				}
				sets = append(sets, b.q(f.Column())+" = "+m)
			}
			pk, _ := s.entity.Field(s.entity.PrimaryKeyField())
			m, err := b.bind(pk, id)
			if err != nil {
				return err
			}
			query := "UPDATE " + b.table(s.entity) + " SET " + strings.Join(sets, ", ") +
				" WHERE " + b.q(pk.Column()) + " = " + m
			if _, err := s.execute(ctx, tx, query, b.args); err != nil {
				return err
			}
		}

		if err := s.applyRelations(ctx, tx, id, later); err != nil {
			return err
		}
		out, err = s.fetch(ctx, tx, id, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the first match and its join table rows, returning the selected fields
func (s *Store) Delete(ctx context.Context, args gcrud.DeleteArgs) (gcrud.Record, error) {
	var out gcrud.Record
	err := s.exec.Transaction(ctx, func(tx Executor) error {
		id, err := s.firstID(ctx, tx, args.Where)
		if err != nil {
			return err
		}
		out, err = s.fetch(ctx, tx, id, args.Select)
		if err != nil {
			return err
		}

		for _, f := range s.entity.Fields {
			if !f.IsRelation {
				continue
			}
			info, err := s.reg.Relation(s.entity.Name, f.Name)
			if err != nil {
				return err
			}
			if info.Kind == gcrud.RelationKindManyToMany {
				if err := s.unlink(ctx, tx, info, id, nil); err != nil {
					return err
				}
			}
		}

		b := newBuilder(s.reg, s.dialect)
		pk, _ := s.entity.Field(s.entity.PrimaryKeyField())
		m, err := b.bind(pk, id)
		if err != nil {
			return err
		}
		_, err = s.execute(ctx, tx, "DELETE FROM "+b.table(s.entity)+" WHERE "+b.q(pk.Column())+" = "+m, b.args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregate counts matches with a non-null value in each counted field
func (s *Store) Aggregate(ctx context.Context, args gcrud.AggregateArgs) (*gcrud.AggregateResult, error) {
	b := newBuilder(s.reg, s.dialect)
	alias := b.alias()

	var cols []string
	for _, name := range args.Count {
		f, ok := s.entity.Field(name)
		if !ok || f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, name)
		}
		cols = append(cols, "COUNT("+b.col(alias, f)+") AS "+b.q(name))
	}
	if len(cols) == 0 {
		cols = []string{"COUNT(*) AS " + b.q("_all")}
	}

	where, err := b.where(s.entity, alias, args.Where)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + b.table(s.entity) + " " + alias + " WHERE " + where
	rows, err := s.query(ctx, s.exec, query, b.args)
	if err != nil {
		return nil, err
	}

	result := &gcrud.AggregateResult{Count: make(map[string]int64, len(args.Count))}
	if len(rows) == 0 {
		return result, nil
	}
	for _, name := range args.Count {
		n, _ := asInt(rows[0][name])
		result.Count[name] = n
	}
	return result, nil
}

func (s *Store) findMany(ctx context.Context, exec Executor, args gcrud.FindManyArgs) ([]gcrud.Record, error) {
	plan, err := s.plan(s.entity, args.Select, args.Include)
	if err != nil {
		return nil, err
	}

	b := newBuilder(s.reg, s.dialect)
	alias := b.alias()
	where, err := b.where(s.entity, alias, args.Where)
	if err != nil {
		return nil, err
	}

	order := args.OrderBy
	if len(order) == 0 {
		order = gcrud.OrderBy{{Field: s.entity.PrimaryKeyField(), Direction: gcrud.SortAsc}}
	}
	var orderParts []string
	for _, o := range order {
		f, ok := s.entity.Field(o.Field)
		if !ok || f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, o.Field)
		}
		dir := "ASC"
		if o.Direction == gcrud.SortDesc {
			dir = "DESC"
		}
		orderParts = append(orderParts, b.col(alias, f)+" "+dir)
	}

	query := "SELECT " + plan.columns(b, alias) + " FROM " + b.table(s.entity) + " " + alias +
		" WHERE " + where + " ORDER BY " + strings.Join(orderParts, ", ") + s.dialect.page(args.Take, args.Skip)
	raw, err := s.query(ctx, exec, query, b.args)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, exec, plan, raw)
}

// fetch reads one record by primary key
func (s *Store) fetch(ctx context.Context, exec Executor, id any, sel gcrud.Selection) (gcrud.Record, error) {
	rows, err := s.findMany(ctx, exec, gcrud.FindManyArgs{
		Where:  gcrud.Predicate{s.entity.PrimaryKeyField(): id},
		Select: sel,
		Take:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gcrud.ErrNotFound(s.entity.Name, id)
	}
	return rows[0], nil
}

// firstID returns the primary key of the first match or a not_found error
func (s *Store) firstID(ctx context.Context, exec Executor, where gcrud.Predicate) (any, error) {
	rows, err := s.findMany(ctx, exec, gcrud.FindManyArgs{
		Where:  where,
		Select: gcrud.Selection{s.entity.PrimaryKeyField(): true},
		Take:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gcrud.NewError(gcrud.ErrorTypeNotFound, fmt.Sprintf("%s not found", s.entity.Name))
	}
	return rows[0][s.entity.PrimaryKeyField()], nil
}

// split separates data into encoded-later scalar values and relation directives
func (s *Store) split(data gcrud.Record) (scalars, relations map[string]any, err error) {
	scalars = make(map[string]any)
	relations = make(map[string]any)
	for key, value := range data {
		f, ok := s.entity.Field(key)
		if !ok {
			return nil, nil, gcrud.ErrInvalidFieldReference(s.entity.Name, key)
		}
		if f.IsRelation {
			relations[key] = value
			continue
		}
		scalars[key] = value
	}
	return scalars, relations, nil
}

func (s *Store) fillDefaults(scalars map[string]any) {
	for _, f := range s.entity.Fields {
		if f.IsRelation || scalars[f.Name] != nil {
			continue
		}
		switch {
		case f.IsID && f.Type == gcrud.FieldTypeString && f.HasDefault:
			scalars[f.Name] = uuid.NewString()
		case f.Type == gcrud.FieldTypeDateTime && (f.HasDefault || f.IsUpdatedAt):
			scalars[f.Name] = time.Now().UTC()
		}
	}
}

// insert writes one row and returns its primary key
func (s *Store) insert(ctx context.Context, tx Executor, scalars map[string]any) (any, error) {
	pk, _ := s.entity.Field(s.entity.PrimaryKeyField())
	if id, ok := scalars[pk.Name]; ok && id != nil {
		b := newBuilder(s.reg, s.dialect)
		query, err := s.insertStatement(b, scalars, "")
		if err != nil {
			return nil, err
		}
		if _, err := s.execute(ctx, tx, query, b.args); err != nil {
			return nil, err
		}
		return id, nil
	}

	b := newBuilder(s.reg, s.dialect)
	switch s.dialect.insertID {
	case returningID, outputID:
		query, err := s.insertStatement(b, scalars, pk.Column())
		if err != nil {
			return nil, err
		}
		rows, err := s.query(ctx, tx, query, b.args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, gcrud.NewError(gcrud.ErrorTypeStore, "insert returned no key")
		}
		return decode(pk, firstValue(rows[0])), nil

	default:
		query, err := s.insertStatement(b, scalars, "")
		if err != nil {
			return nil, err
		}
		if _, err := s.execute(ctx, tx, query, b.args); err != nil {
			return nil, err
		}
		rows, err := s.query(ctx, tx, "SELECT LAST_INSERT_ID() AS "+b.q("id"), nil)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, gcrud.NewError(gcrud.ErrorTypeStore, "insert returned no key")
		}
		return decode(pk, firstValue(rows[0])), nil
	}
}

// insertStatement renders INSERT for scalars, returning keyColumn when set
func (s *Store) insertStatement(b *builder, scalars map[string]any, keyColumn string) (string, error) {
	table := b.table(s.entity)
	var cols, marks []string
	for _, name := range gcrud.SortedKeys(scalars) {
		f, _ := s.entity.Field(name)
		m, err := b.bind(f, scalars[name])
		if err != nil {
			return "", err
		}
		cols = append(cols, b.q(f.Column()))
		marks = append(marks, m)
	}

	output := ""
	if keyColumn != "" && s.dialect.insertID == outputID {
		output = " OUTPUT INSERTED." + b.q(keyColumn)
	}
	var query string
	if len(cols) == 0 {
		query = s.dialect.emptyInsert(table)
		if output != "" {
			query = "INSERT INTO " + table + output + " DEFAULT VALUES"
		}
	} else {
		query = "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ")" + output +
			" VALUES (" + strings.Join(marks, ", ") + ")"
	}
	if keyColumn != "" && s.dialect.insertID == returningID {
		query += " RETURNING " + b.q(keyColumn)
	}
	return query, nil
}

func (s *Store) query(ctx context.Context, exec Executor, query string, args []any) ([]map[string]any, error) {
	s.logger.Debug("sql query", zap.String("sql", query), zap.Int("args", len(args)))
	return exec.Query(ctx, query, args...)
}

func (s *Store) execute(ctx context.Context, exec Executor, query string, args []any) (int64, error) {
	s.logger.Debug("sql exec", zap.String("sql", query), zap.Int("args", len(args)))
	return exec.Exec(ctx, query, args...)
}

func firstValue(row map[string]any) any {
	for _, v := range row {
		return v
	}
	return nil
}
