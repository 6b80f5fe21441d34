package gcrudmem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lemmego/gcrud"
)

// Store implements gcrud.EntityStore for one entity
type Store struct {
	p      *Provider
	entity *gcrud.EntityDescriptor
}

// Create inserts data. Relation fields take a directive such as {connect: [{id: 1}]}.
func (s *Store) Create(ctx context.Context, data gcrud.Record) (gcrud.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	t, err := s.p.table(s.entity.Name)
	if err != nil {
		return nil, err
	}

	row := gcrud.Record{}
	relations := map[string]any{}
	for key, value := range data {
		f, ok := s.entity.Field(key)
		if !ok {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, key)
		}
		if f.IsRelation {
			if value != nil {
				relations[key] = value
			}
			continue
		}
		v, err := normalize(f, value)
		if err != nil {
			return nil, err
		}
		row[key] = v
	}
	if err := s.fillDefaults(t, row); err != nil {
		return nil, err
	}
	if err := s.checkUnique(t, row, nil); err != nil {
		return nil, err
	}

	for _, key := range gcrud.SortedKeys(relations) {
		if err := s.p.applyRelation(s.entity.Name, row, key, relations[key]); err != nil {
			return nil, err
		}
	}
	t.rows = append(t.rows, row)
	return s.project(row, nil, nil)
}

// FindFirst returns the first match in primary key order
func (s *Store) FindFirst(ctx context.Context, where gcrud.Predicate) (gcrud.Record, error) {
	rows, err := s.FindMany(ctx, gcrud.FindManyArgs{Where: where, Take: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FindMany filters, sorts, pages and projects
func (s *Store) FindMany(ctx context.Context, args gcrud.FindManyArgs) ([]gcrud.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	matched, err := s.filter(args.Where)
	if err != nil {
		return nil, err
	}

	order := args.OrderBy
	if len(order) == 0 {
		order = gcrud.OrderBy{{Field: s.entity.PrimaryKeyField(), Direction: gcrud.SortAsc}}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range order {
			c := sortLess(matched[i][o.Field], matched[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Direction == gcrud.SortDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if args.Skip > 0 {
		if args.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[args.Skip:]
		}
	}
	if args.Take > 0 && len(matched) > args.Take {
		matched = matched[:args.Take]
	}

	out := make([]gcrud.Record, 0, len(matched))
	for _, row := range matched {
		r, err := s.project(row, args.Select, args.Include)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Update applies scalar values and relation directives to the first match
func (s *Store) Update(ctx context.Context, args gcrud.UpdateArgs) (gcrud.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	t, err := s.p.table(s.entity.Name)
	if err != nil {
		return nil, err
	}
	row, err := s.first(args.Where)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeNotFound, fmt.Sprintf("%s not found", s.entity.Name))
	}

	next := make(gcrud.Record, len(row))
	for k, v := range row {
		next[k] = v
	}
	relations := map[string]any{}
	for key, value := range args.Data {
		f, ok := s.entity.Field(key)
		if !ok {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, key)
		}
		if f.IsRelation {
			relations[key] = value
			continue
		}
		if f.IsID {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("%s.%s is the primary key and cannot be updated", s.entity.Name, key))
		}
		v, err := normalize(f, value)
		if err != nil {
			return nil, err
		}
		next[key] = v
	}
	for _, f := range s.entity.Fields {
		if f.IsUpdatedAt {
			next[f.Name] = time.Now().UTC()
		}
	}
	if err := s.checkUnique(t, next, row); err != nil {
		return nil, err
	}

	for _, key := range gcrud.SortedKeys(relations) {
		if err := s.p.applyRelation(s.entity.Name, next, key, relations[key]); err != nil {
			return nil, err
		}
	}
	for k, v := range next {
		row[k] = v
	}
	return s.project(row, nil, nil)
}

// Delete removes the first match and its join rows
func (s *Store) Delete(ctx context.Context, args gcrud.DeleteArgs) (gcrud.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	t, err := s.p.table(s.entity.Name)
	if err != nil {
		return nil, err
	}
	row, err := s.first(args.Where)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, gcrud.NewError(gcrud.ErrorTypeNotFound, fmt.Sprintf("%s not found", s.entity.Name))
	}

	// Project before unlinking so selected relations still resolve.
	result, err := s.project(row, args.Select, nil)
	if err != nil {
		return nil, err
	}

	pk := s.entity.PrimaryKeyField()
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !equal(r[pk], row[pk]) {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	s.p.unlinkRow(s.entity, row[pk])
	return result, nil
}

// Aggregate counts matches with a non-null value in each counted field
func (s *Store) Aggregate(ctx context.Context, args gcrud.AggregateArgs) (*gcrud.AggregateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	matched, err := s.filter(args.Where)
	if err != nil {
		return nil, err
	}
	result := &gcrud.AggregateResult{Count: make(map[string]int64, len(args.Count))}
	for _, field := range args.Count {
		if _, ok := s.entity.Field(field); !ok {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, field)
		}
		var n int64
		for _, row := range matched {
			if row[field] != nil {
				n++
			}
		}
		result.Count[field] = n
	}
	return result, nil
}

func (s *Store) filter(where gcrud.Predicate) ([]gcrud.Record, error) {
	t, err := s.p.table(s.entity.Name)
	if err != nil {
		return nil, err
	}
	var out []gcrud.Record
	for _, row := range t.rows {
		ok, err := s.p.matches(s.entity.Name, row, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) first(where gcrud.Predicate) (gcrud.Record, error) {
	rows, err := s.filter(where)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Store) fillDefaults(t *table, row gcrud.Record) error {
	for _, f := range s.entity.Fields {
		if f.IsRelation || row[f.Name] != nil {
			if f.IsID {
				if n, ok := row[f.Name].(int64); ok && n >= t.nextID {
					t.nextID = n
				}
			}
			continue
		}
		switch {
		case f.IsID && (f.Type == gcrud.FieldTypeInt || f.Type == gcrud.FieldTypeBigInt):
			t.nextID++
			row[f.Name] = t.nextID
		case f.IsID && f.Type == gcrud.FieldTypeString:
			row[f.Name] = uuid.NewString()
		case f.Type == gcrud.FieldTypeDateTime && (f.HasDefault || f.IsUpdatedAt):
			row[f.Name] = time.Now().UTC()
		case f.IsRequired && !f.HasDefault:
			return gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("%s.%s is required", s.entity.Name, f.Name))
		default:
			row[f.Name] = nil
		}
	}
	return nil
}

// checkUnique rejects row when another row than self holds one of its unique values
func (s *Store) checkUnique(t *table, row, self gcrud.Record) error {
	for _, f := range s.entity.Fields {
		if !(f.IsUnique || f.IsID) || row[f.Name] == nil {
			continue
		}
		for _, other := range t.rows {
			if self != nil && equal(other[s.entity.PrimaryKeyField()], self[s.entity.PrimaryKeyField()]) {
				continue
			}
			if equal(other[f.Name], row[f.Name]) {
				return gcrud.NewError(gcrud.ErrorTypeDuplicate,
					fmt.Sprintf("unique constraint failed on %s.%s", s.entity.Name, f.Name))
			}
		}
	}
	return nil
}

// project copies row restricted to sel. A nil selection returns every scalar
// field plus the included relations.
func (s *Store) project(row gcrud.Record, sel gcrud.Selection, include []string) (gcrud.Record, error) {
	return s.p.project(s.entity, row, sel, include)
}

func (p *Provider) project(entity *gcrud.EntityDescriptor, row gcrud.Record, sel gcrud.Selection, include []string) (gcrud.Record, error) {
	out := gcrud.Record{}
	relations := map[string]gcrud.Selection{}

	if sel == nil {
		for _, name := range entity.ScalarFieldNames() {
			out[name] = row[name]
		}
	} else {
		var fields []string
		fields, relations = gcrud.SelectedFields(sel)
		for _, name := range fields {
			f, ok := entity.Field(name)
			if !ok {
				return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
			}
			if f.IsRelation {
				relations[name] = nil
				continue
			}
			out[name] = row[name]
		}
	}
	for _, name := range include {
		if _, ok := relations[name]; !ok {
			relations[name] = nil
		}
	}

	for _, name := range gcrud.SortedKeys(relations) {
		f, ok := entity.Field(name)
		if !ok || !f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
		}
		target, err := p.schema.Entity(f.RelationTarget)
		if err != nil {
			return nil, err
		}
		rows, err := p.related(entity.Name, row, name)
		if err != nil {
			return nil, err
		}
		nested := make([]gcrud.Record, 0, len(rows))
		for _, r := range rows {
			n, err := p.project(target, r, relations[name], nil)
			if err != nil {
				return nil, err
			}
			nested = append(nested, n)
		}
		if f.IsList {
			out[name] = nested
		} else if len(nested) > 0 {
			out[name] = nested[0]
		} else {
			out[name] = nil
		}
	}
	return out, nil
}
