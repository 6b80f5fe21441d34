package gcrudsql

import (
	"context"
	"strings"

	"github.com/lemmego/gcrud"
)

// relationKey is the column alias carrying the owner key in relation loads
const relationKey = "__owner_key"

// projection is what one SELECT reads for an entity and what it returns
type projection struct {
	entity    *gcrud.EntityDescriptor
	fields    []string
	extras    []string
	relations map[string]*relationLoad
}

type relationLoad struct {
	info     *gcrud.RelationInfo
	ownerKey *gcrud.FieldDescriptor
	nested   *projection
}

// plan resolves a selection into columns to read and relations to load.
// A nil selection reads every scalar field.
func (s *Store) plan(entity *gcrud.EntityDescriptor, sel gcrud.Selection, include []string) (*projection, error) {
	p := &projection{entity: entity, relations: make(map[string]*relationLoad)}
	nested := map[string]gcrud.Selection{}

	if sel == nil {
		p.fields = entity.ScalarFieldNames()
	} else {
		fields, relations := gcrud.SelectedFields(sel)
		for name, rel := range relations {
			nested[name] = rel
		}
		for _, name := range fields {
			f, ok := entity.Field(name)
			if !ok {
				return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
			}
			if f.IsRelation {
				nested[name] = nil
				continue
			}
			p.fields = append(p.fields, name)
		}
	}
	for _, name := range include {
		if _, ok := nested[name]; !ok {
			nested[name] = nil
		}
	}

	selected := make(map[string]bool, len(p.fields))
	for _, name := range p.fields {
		selected[name] = true
	}
	need := func(f *gcrud.FieldDescriptor) {
		if !selected[f.Name] {
			selected[f.Name] = true
			p.extras = append(p.extras, f.Name)
		}
	}

	for _, name := range gcrud.SortedKeys(nested) {
		f, ok := entity.Field(name)
		if !ok || !f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
		}
		info, err := s.reg.Relation(entity.Name, name)
		if err != nil {
			return nil, err
		}

		load := &relationLoad{info: info}
		switch info.Kind {
		case gcrud.RelationKindToOne:
			fk, _, err := foreignKey(info.Field, info.Owner, info.Target)
			if err != nil {
				return nil, err
			}
			load.ownerKey = fk
		case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
			_, ref, err := foreignKey(info.Opposite, info.Target, info.Owner)
			if err != nil {
				return nil, err
			}
			load.ownerKey = ref
		case gcrud.RelationKindManyToMany:
			ownerPK, _, err := primaryKeys(info)
			if err != nil {
				return nil, err
			}
			load.ownerKey = ownerPK
		}
		need(load.ownerKey)

		load.nested, err = s.plan(info.Target, nested[name], nil)
		if err != nil {
			return nil, err
		}
		p.relations[name] = load
	}
	return p, nil
}

// columns renders the select list, aliasing each column to its field name
func (p *projection) columns(b *builder, alias string) string {
	names := append(append([]string{}, p.fields...), p.extras...)
	if len(names) == 0 {
		names = []string{p.entity.PrimaryKeyField()}
	}
	cols := make([]string, 0, len(names))
	for _, name := range names {
		f, _ := p.entity.Field(name)
		cols = append(cols, b.col(alias, f)+" AS "+b.q(name))
	}
	return strings.Join(cols, ", ")
}

// hydrate decodes raw rows, loads the planned relations into them and drops
// the key columns read only for loading
func (s *Store) hydrate(ctx context.Context, exec Executor, p *projection, raw []map[string]any) ([]gcrud.Record, error) {
	rows := make([]gcrud.Record, len(raw))
	for i, r := range raw {
		row := make(gcrud.Record, len(p.fields)+len(p.extras))
		for _, name := range append(append([]string{}, p.fields...), p.extras...) {
			f, _ := p.entity.Field(name)
			row[name] = decode(f, r[name])
		}
		rows[i] = row
	}

	for _, name := range gcrud.SortedKeys(p.relations) {
		if err := s.loadRelation(ctx, exec, name, p.relations[name], rows); err != nil {
			return nil, err
		}
	}

	for _, row := range rows {
		for _, name := range p.extras {
			delete(row, name)
		}
	}
	return rows, nil
}

// loadRelation reads the related rows of every owner row with one query
func (s *Store) loadRelation(ctx context.Context, exec Executor, name string, load *relationLoad, rows []gcrud.Record) error {
	info := load.info
	isList := info.Field.IsList

	var keys []any
	seen := make(map[string]bool)
	for _, row := range rows {
		if v := row[load.ownerKey.Name]; v != nil && !seen[keyOf(v)] {
			seen[keyOf(v)] = true
			keys = append(keys, v)
		}
	}

	grouped := make(map[string][]gcrud.Record)
	if len(keys) > 0 {
		b := newBuilder(s.reg, s.dialect)
		t := b.alias()
		target := info.Target
		targetPK, _ := target.Field(target.PrimaryKeyField())

		var keyCol, from string
		switch info.Kind {
		case gcrud.RelationKindToOne:
			_, to, err := foreignKey(info.Field, info.Owner, info.Target)
			if err != nil {
				return err
			}
			keyCol = b.col(t, to)
			from = b.table(target) + " " + t
		case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
			fk, _, err := foreignKey(info.Opposite, info.Target, info.Owner)
			if err != nil {
				return err
			}
			keyCol = b.col(t, fk)
			from = b.table(target) + " " + t
		case gcrud.RelationKindManyToMany:
			j := b.alias()
			keyCol = j + "." + b.q(info.OwnerColumn)
			from = b.q(info.JoinTable) + " " + j + " INNER JOIN " + b.table(target) + " " + t +
				" ON " + b.col(t, targetPK) + " = " + j + "." + b.q(info.TargetColumn)
		}

		marks, err := b.bindList(load.ownerKey, keys)
		if err != nil {
			return err
		}
		query := "SELECT " + load.nested.columns(b, t) + ", " + keyCol + " AS " + b.q(relationKey) +
			" FROM " + from + " WHERE " + keyCol + " IN " + marks + " ORDER BY " + b.col(t, targetPK) + " ASC"
		raw, err := s.query(ctx, exec, query, b.args)
		if err != nil {
			return err
		}

		related, err := s.hydrate(ctx, exec, load.nested, raw)
		if err != nil {
			return err
		}
		for i, r := range raw {
			k := keyOf(r[relationKey])
			grouped[k] = append(grouped[k], related[i])
		}
	}

	for _, row := range rows {
		var matched []gcrud.Record
		if v := row[load.ownerKey.Name]; v != nil {
			matched = grouped[keyOf(v)]
		}
		switch {
		case isList && matched == nil:
			row[name] = []gcrud.Record{}
		case isList:
			row[name] = matched
		case len(matched) > 0:
			row[name] = matched[0]
		default:
			row[name] = nil
		}
	}
	return nil
}
