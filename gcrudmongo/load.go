package gcrudmongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

// projection is what one find reads for an entity and what it returns
type projection struct {
	entity    *gcrud.EntityDescriptor
	fields    []string
	extras    []string
	relations map[string]*relationLoad
}

type relationLoad struct {
	info *gcrud.RelationInfo
	// ownerKey is read from the owner, groupKey from the related documents
	ownerKey *gcrud.FieldDescriptor
	groupKey *gcrud.FieldDescriptor
	nested   *projection
}

// need adds f to the fields read without returning it
func (p *projection) need(f *gcrud.FieldDescriptor) {
	for _, name := range p.fields {
		if name == f.Name {
			return
		}
	}
	for _, name := range p.extras {
		if name == f.Name {
			return
		}
	}
	p.extras = append(p.extras, f.Name)
}

func (p *projection) names() []string {
	return append(append([]string{}, p.fields...), p.extras...)
}

// strip drops the fields read only for loading
func (p *projection) strip(rows []gcrud.Record) {
	for _, row := range rows {
		for _, name := range p.extras {
			delete(row, name)
		}
	}
}

// plan resolves a selection into fields to read and relations to load.
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

	for _, name := range gcrud.SortedKeys(nested) {
		f, ok := entity.Field(name)
		if !ok || !f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
		}
		info, err := s.p.schema.Relation(entity.Name, name)
		if err != nil {
			return nil, err
		}

		load := &relationLoad{info: info}
		switch info.Kind {
		case gcrud.RelationKindToOne:
			fk, ref, err := foreignKey(info.Field, info.Owner, info.Target)
			if err != nil {
				return nil, err
			}
			load.ownerKey, load.groupKey = fk, ref
		case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
			fk, ref, err := foreignKey(info.Opposite, info.Target, info.Owner)
			if err != nil {
				return nil, err
			}
			load.ownerKey, load.groupKey = ref, fk
		case gcrud.RelationKindManyToMany:
			load.ownerKey = s.targetPK(info.Owner)
			load.groupKey = s.targetPK(info.Target)
		}
		p.need(load.ownerKey)

		load.nested, err = s.plan(info.Target, nested[name], nil)
		if err != nil {
			return nil, err
		}
		load.nested.need(load.groupKey)
		p.relations[name] = load
	}
	return p, nil
}

// read runs one find and loads the planned relations. The extra fields are
// left in the rows for the caller to strip.
func (s *Store) read(ctx context.Context, p *projection, filter bson.M, opts *options.FindOptions) ([]gcrud.Record, error) {
	keys := bson.M{idKey: 1}
	for _, name := range p.names() {
		f, _ := p.entity.Field(name)
		keys[key(p.entity, f)] = 1
	}
	opts.SetProjection(keys)

	s.logger.Debug("mongo find", zap.String("collection", p.entity.Table()), zap.Any("filter", filter))
	cursor, err := s.coll(p.entity.Table()).Find(ctx, filter, opts)
	if err != nil {
		return nil, convertMongoError(err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, convertMongoError(err)
	}

	rows := make([]gcrud.Record, len(docs))
	for i, doc := range docs {
		row := make(gcrud.Record, len(p.fields)+len(p.extras))
		for _, name := range p.names() {
			f, _ := p.entity.Field(name)
			row[name] = decode(f, doc[key(p.entity, f)])
		}
		rows[i] = row
	}

	for _, name := range gcrud.SortedKeys(p.relations) {
		if err := s.loadRelation(ctx, name, p.relations[name], rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// loadRelation reads the related documents of every owner row with one find,
// plus one on the join collection for many-to-many relations
func (s *Store) loadRelation(ctx context.Context, name string, load *relationLoad, rows []gcrud.Record) error {
	info := load.info

	var keys []any
	seen := make(map[string]bool)
	for _, row := range rows {
		if v := row[load.ownerKey.Name]; v != nil && !seen[keyOf(v)] {
			seen[keyOf(v)] = true
			keys = append(keys, v)
		}
	}

	// owner key -> keys of the related documents, for join collections
	var links map[string][]string
	grouped := make(map[string][]gcrud.Record)

	if len(keys) > 0 {
		encoded, err := encodeList(load.ownerKey, keys)
		if err != nil {
			return err
		}
		groupKey := key(info.Target, load.groupKey)
		filter := bson.M{groupKey: bson.M{"$in": encoded}}

		if info.Kind == gcrud.RelationKindManyToMany {
			links, filter, err = s.joinLinks(ctx, info, encoded)
			if err != nil {
				return err
			}
		}

		opts := options.Find().SetSort(bson.D{{Key: idKey, Value: 1}})
		related, err := s.read(ctx, load.nested, filter, opts)
		if err != nil {
			return err
		}
		for _, r := range related {
			k := keyOf(r[load.groupKey.Name])
			grouped[k] = append(grouped[k], r)
		}
		load.nested.strip(related)
	}

	for _, row := range rows {
		var matched []gcrud.Record
		if v := row[load.ownerKey.Name]; v != nil {
			if links != nil {
				for _, target := range links[keyOf(v)] {
					matched = append(matched, grouped[target]...)
				}
			} else {
				matched = grouped[keyOf(v)]
			}
		}
		switch {
		case info.Field.IsList && matched == nil:
			row[name] = []gcrud.Record{}
		case info.Field.IsList:
			row[name] = matched
		case len(matched) > 0:
			row[name] = matched[0]
		default:
			row[name] = nil
		}
	}
	return nil
}

// joinLinks reads the join documents of the owners and returns them grouped
// by owner together with the filter selecting the linked documents
func (s *Store) joinLinks(ctx context.Context, info *gcrud.RelationInfo, owners []any) (map[string][]string, bson.M, error) {
	opts := options.Find().SetSort(bson.D{{Key: info.TargetColumn, Value: 1}})
	cursor, err := s.coll(info.JoinTable).Find(ctx, bson.M{info.OwnerColumn: bson.M{"$in": owners}}, opts)
	if err != nil {
		return nil, nil, convertMongoError(err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, nil, convertMongoError(err)
	}

	links := make(map[string][]string)
	var targets []any
	for _, doc := range docs {
		owner := keyOf(doc[info.OwnerColumn])
		links[owner] = append(links[owner], keyOf(doc[info.TargetColumn]))
		targets = append(targets, doc[info.TargetColumn])
	}
	return links, bson.M{idKey: bson.M{"$in": dedupe(targets)}}, nil
}
