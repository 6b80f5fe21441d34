package gcrudmongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

type directive struct {
	info    *gcrud.RelationInfo
	op      gcrud.RelationOperation
	operand any
}

// all reports a bare {disconnect: true}
func (d directive) all() bool {
	return d.op == gcrud.RelationDisconnect && d.operand == true
}

// resolveForeignKeys turns to-one directives into foreign key values in
// scalars and returns the directives that run after the document is written
func (s *Store) resolveForeignKeys(ctx context.Context, scalars, relations map[string]any) ([]directive, error) {
	var later []directive
	for _, name := range gcrud.SortedKeys(relations) {
		op, operand, ok := gcrud.RelationDirective(relations[name])
		if !ok {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("relation %s.%s: expected a single {operation: value} directive", s.entity.Name, name))
		}
		switch op {
		case gcrud.RelationSet, gcrud.RelationConnect, gcrud.RelationDisconnect:
		default:
			return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported,
				fmt.Sprintf("relation operation %q is not supported by the mongo store", op))
		}
		info, err := s.p.schema.Relation(s.entity.Name, name)
		if err != nil {
			return nil, err
		}
		d := directive{info: info, op: op, operand: operand}
		if info.Kind != gcrud.RelationKindToOne {
			later = append(later, d)
			continue
		}

		fk, ref, err := foreignKey(info.Field, info.Owner, info.Target)
		if err != nil {
			return nil, err
		}
		if op == gcrud.RelationDisconnect {
			scalars[fk.Name] = nil
			continue
		}
		ids := gcrud.DirectiveIDs(operand)
		if len(ids) != 1 {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("relation %s.%s takes exactly one id", s.entity.Name, name))
		}
		docs, err := s.targetDocs(ctx, info.Target, ids, ref)
		if err != nil {
			return nil, err
		}
		scalars[fk.Name] = decode(ref, docs[0][key(info.Target, ref)])
	}
	return later, nil
}

// applyRelations runs directives for the owner document id
func (s *Store) applyRelations(ctx context.Context, id any, directives []directive) error {
	for _, d := range directives {
		ids := gcrud.DirectiveIDs(d.operand)
		if !d.all() {
			if _, err := s.targetDocs(ctx, d.info.Target, ids, nil); err != nil {
				return err
			}
		}

		var err error
		switch d.info.Kind {
		case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
			err = s.applyInverse(ctx, d, id, ids)
		case gcrud.RelationKindManyToMany:
			err = s.applyManyToMany(ctx, d, id, ids)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyInverse(ctx context.Context, d directive, id any, ids []any) error {
	info := d.info
	fk, ref, err := foreignKey(info.Opposite, info.Target, info.Owner)
	if err != nil {
		return err
	}
	if ref.Name != info.Owner.PrimaryKeyField() {
		return gcrud.NewError(gcrud.ErrorTypeUnsupported,
			fmt.Sprintf("relation %s.%s must reference the primary key to be written", info.Owner.Name, info.Field.Name))
	}
	targets := s.coll(info.Target.Table())
	fkKey := key(info.Target, fk)
	targetIDs, err := encodeList(s.targetPK(info.Target), dedupe(ids))
	if err != nil {
		return err
	}

	// clear the current links, or only the named ones
	if d.op == gcrud.RelationSet || d.op == gcrud.RelationDisconnect {
		filter := bson.M{fkKey: id}
		if d.op == gcrud.RelationDisconnect && !d.all() {
			if len(ids) == 0 {
				return nil
			}
			filter[idKey] = bson.M{"$in": targetIDs}
		}
		s.logger.Debug("mongo unlink", zap.String("collection", info.Target.Table()), zap.String("field", fkKey))
		if _, err := targets.UpdateMany(ctx, filter, bson.M{"$set": bson.M{fkKey: nil}}); err != nil {
			return convertMongoError(err)
		}
	}
	if d.op == gcrud.RelationDisconnect || len(ids) == 0 {
		return nil
	}

	s.logger.Debug("mongo link", zap.String("collection", info.Target.Table()), zap.String("field", fkKey))
	_, err = targets.UpdateMany(ctx, bson.M{idKey: bson.M{"$in": targetIDs}}, bson.M{"$set": bson.M{fkKey: id}})
	return convertMongoError(err)
}

func (s *Store) applyManyToMany(ctx context.Context, d directive, id any, ids []any) error {
	switch {
	case d.op == gcrud.RelationSet || d.all():
		if err := s.unlink(ctx, d.info, id, nil); err != nil {
			return err
		}
	default:
		// connect and disconnect both start by removing the named pairs
		if len(ids) == 0 {
			return nil
		}
		if err := s.unlink(ctx, d.info, id, ids); err != nil {
			return err
		}
	}
	if d.op == gcrud.RelationDisconnect || len(ids) == 0 {
		return nil
	}

	targetIDs, err := encodeList(s.targetPK(d.info.Target), dedupe(ids))
	if err != nil {
		return err
	}
	links := make([]any, 0, len(targetIDs))
	for _, target := range targetIDs {
		links = append(links, bson.M{d.info.OwnerColumn: id, d.info.TargetColumn: target})
	}
	s.logger.Debug("mongo link", zap.String("collection", d.info.JoinTable), zap.Int("links", len(links)))
	_, err = s.coll(d.info.JoinTable).InsertMany(ctx, links)
	return convertMongoError(err)
}

// unlink deletes join documents of the owner, limited to targets when targets is non-nil
func (s *Store) unlink(ctx context.Context, info *gcrud.RelationInfo, id any, targets []any) error {
	filter := bson.M{info.OwnerColumn: id}
	if targets != nil {
		encoded, err := encodeList(s.targetPK(info.Target), dedupe(targets))
		if err != nil {
			return err
		}
		filter[info.TargetColumn] = bson.M{"$in": encoded}
	}
	s.logger.Debug("mongo unlink", zap.String("collection", info.JoinTable))
	_, err := s.coll(info.JoinTable).DeleteMany(ctx, filter)
	return convertMongoError(err)
}

// targetDocs reads the documents of target with the given primary keys and
// fails with not_found unless every id exists. Only _id and extra are read.
func (s *Store) targetDocs(ctx context.Context, target *gcrud.EntityDescriptor, ids []any, extra *gcrud.FieldDescriptor) ([]map[string]any, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	encoded, err := encodeList(s.targetPK(target), ids)
	if err != nil {
		return nil, err
	}
	projection := bson.M{idKey: 1}
	if extra != nil {
		projection[key(target, extra)] = 1
	}

	cursor, err := s.coll(target.Table()).Find(ctx, bson.M{idKey: bson.M{"$in": encoded}}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, convertMongoError(err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, convertMongoError(err)
	}

	found := make(map[string]map[string]any, len(docs))
	for _, doc := range docs {
		found[keyOf(doc[idKey])] = doc
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc, ok := found[keyOf(id)]
		if !ok {
			return nil, gcrud.ErrNotFound(target.Name, id)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) targetPK(target *gcrud.EntityDescriptor) *gcrud.FieldDescriptor {
	pk, _ := target.Field(target.PrimaryKeyField())
	return pk
}
