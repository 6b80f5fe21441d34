package gcrudmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lemmego/gcrud"
)

// countersCollection holds one sequence document per collection with an integer key
const countersCollection = "_counters"

// Store implements gcrud.EntityStore over one collection.
// Writes touching several collections are not atomic.
type Store struct {
	p      *Provider
	entity *gcrud.EntityDescriptor
	tr     *translator
	logger *zap.Logger
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.p.database.Collection(name)
}

// Create inserts data. Relation fields take a directive such as {connect: [{id: 1}]}.
func (s *Store) Create(ctx context.Context, data gcrud.Record) (gcrud.Record, error) {
	scalars, relations, err := s.split(data)
	if err != nil {
		return nil, err
	}
	later, err := s.resolveForeignKeys(ctx, scalars, relations)
	if err != nil {
		return nil, err
	}
	if err := s.fillDefaults(ctx, scalars); err != nil {
		return nil, err
	}

	doc, err := s.document(scalars)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("mongo insert", zap.String("collection", s.entity.Table()))
	if _, err := s.coll(s.entity.Table()).InsertOne(ctx, doc); err != nil {
		return nil, convertMongoError(err)
	}
	id := doc[idKey]
	if err := s.advanceCounter(ctx, id); err != nil {
		return nil, err
	}

	if err := s.applyRelations(ctx, id, later); err != nil {
		return nil, err
	}
	return s.fetch(ctx, id, nil)
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
	p, err := s.plan(s.entity, args.Select, args.Include)
	if err != nil {
		return nil, err
	}
	filter, err := s.tr.filter(ctx, s.entity, args.Where)
	if err != nil {
		return nil, err
	}

	order := args.OrderBy
	if len(order) == 0 {
		order = gcrud.OrderBy{{Field: s.entity.PrimaryKeyField(), Direction: gcrud.SortAsc}}
	}
	sort := bson.D{}
	for _, o := range order {
		f, ok := s.entity.Field(o.Field)
		if !ok || f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, o.Field)
		}
		dir := 1
		if o.Direction == gcrud.SortDesc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: key(s.entity, f), Value: dir})
	}

	opts := options.Find().SetSort(sort)
	if args.Skip > 0 {
		opts.SetSkip(int64(args.Skip))
	}
	if args.Take > 0 {
		opts.SetLimit(int64(args.Take))
	}

	rows, err := s.read(ctx, p, filter, opts)
	if err != nil {
		return nil, err
	}
	p.strip(rows)
	return rows, nil
}

// Update writes scalar values and relation directives to the first match
func (s *Store) Update(ctx context.Context, args gcrud.UpdateArgs) (gcrud.Record, error) {
	id, err := s.firstID(ctx, args.Where)
	if err != nil {
		return nil, err
	}

	scalars, relations, err := s.split(args.Data)
	if err != nil {
		return nil, err
	}
	if _, ok := scalars[s.entity.PrimaryKeyField()]; ok {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("%s.%s is the primary key and cannot be updated", s.entity.Name, s.entity.PrimaryKeyField()))
	}
	for _, f := range s.entity.Fields {
		if f.IsUpdatedAt {
			scalars[f.Name] = time.Now().UTC()
		}
	}
	later, err := s.resolveForeignKeys(ctx, scalars, relations)
	if err != nil {
		return nil, err
	}

	if len(scalars) > 0 {
		set, err := s.document(scalars)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("mongo update", zap.String("collection", s.entity.Table()), zap.Any("id", id))
		if _, err := s.coll(s.entity.Table()).UpdateOne(ctx, bson.M{idKey: id}, bson.M{"$set": set}); err != nil {
			return nil, convertMongoError(err)
		}
	}

	if err := s.applyRelations(ctx, id, later); err != nil {
		return nil, err
	}
	return s.fetch(ctx, id, nil)
}

// Delete removes the first match and its join documents, returning the selected fields
func (s *Store) Delete(ctx context.Context, args gcrud.DeleteArgs) (gcrud.Record, error) {
	id, err := s.firstID(ctx, args.Where)
	if err != nil {
		return nil, err
	}
	out, err := s.fetch(ctx, id, args.Select)
	if err != nil {
		return nil, err
	}

	for _, f := range s.entity.Fields {
		if !f.IsRelation {
			continue
		}
		info, err := s.p.schema.Relation(s.entity.Name, f.Name)
		if err != nil {
			return nil, err
		}
		if info.Kind == gcrud.RelationKindManyToMany {
			if err := s.unlink(ctx, info, id, nil); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Debug("mongo delete", zap.String("collection", s.entity.Table()), zap.Any("id", id))
	if _, err := s.coll(s.entity.Table()).DeleteOne(ctx, bson.M{idKey: id}); err != nil {
		return nil, convertMongoError(err)
	}
	return out, nil
}

// Aggregate counts matches with a non-null value in each counted field
func (s *Store) Aggregate(ctx context.Context, args gcrud.AggregateArgs) (*gcrud.AggregateResult, error) {
	filter, err := s.tr.filter(ctx, s.entity, args.Where)
	if err != nil {
		return nil, err
	}
	result := &gcrud.AggregateResult{Count: make(map[string]int64, len(args.Count))}
	for _, name := range args.Count {
		f, ok := s.entity.Field(name)
		if !ok || f.IsRelation {
			return nil, gcrud.ErrInvalidFieldReference(s.entity.Name, name)
		}
		k := key(s.entity, f)
		n, err := s.coll(s.entity.Table()).CountDocuments(ctx, and([]bson.M{filter, {k: bson.M{"$ne": nil}}}))
		if err != nil {
			return nil, convertMongoError(err)
		}
		result.Count[name] = n
	}
	return result, nil
}

// fetch reads one record by primary key
func (s *Store) fetch(ctx context.Context, id any, sel gcrud.Selection) (gcrud.Record, error) {
	p, err := s.plan(s.entity, sel, nil)
	if err != nil {
		return nil, err
	}
	rows, err := s.read(ctx, p, bson.M{idKey: id}, options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gcrud.ErrNotFound(s.entity.Name, id)
	}
	p.strip(rows)
	return rows[0], nil
}

// firstID returns the stored _id of the first match or a not_found error
func (s *Store) firstID(ctx context.Context, where gcrud.Predicate) (any, error) {
	filter, err := s.tr.filter(ctx, s.entity, where)
	if err != nil {
		return nil, err
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: idKey, Value: 1}}).
		SetProjection(bson.M{idKey: 1})

	var doc bson.M
	err = s.coll(s.entity.Table()).FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, gcrud.NewError(gcrud.ErrorTypeNotFound, fmt.Sprintf("%s not found", s.entity.Name))
	}
	if err != nil {
		return nil, convertMongoError(err)
	}
	return doc[idKey], nil
}

// split separates data into scalar values and relation directives
func (s *Store) split(data gcrud.Record) (scalars, relations map[string]any, err error) {
	scalars = make(map[string]any)
	relations = make(map[string]any)
	for k, value := range data {
		f, ok := s.entity.Field(k)
		if !ok {
			return nil, nil, gcrud.ErrInvalidFieldReference(s.entity.Name, k)
		}
		if f.IsRelation {
			relations[k] = value
			continue
		}
		scalars[k] = value
	}
	return scalars, relations, nil
}

func (s *Store) fillDefaults(ctx context.Context, scalars map[string]any) error {
	for _, f := range s.entity.Fields {
		if f.IsRelation || scalars[f.Name] != nil {
			continue
		}
		switch {
		case f.Name == s.entity.PrimaryKeyField() && (f.Type == gcrud.FieldTypeInt || f.Type == gcrud.FieldTypeBigInt):
			n, err := s.nextID(ctx)
			if err != nil {
				return err
			}
			scalars[f.Name] = n
		case f.Name == s.entity.PrimaryKeyField() && f.Type == gcrud.FieldTypeString:
			scalars[f.Name] = primitive.NewObjectID().Hex()
		case f.Type == gcrud.FieldTypeDateTime && (f.HasDefault || f.IsUpdatedAt):
			scalars[f.Name] = time.Now().UTC()
		case f.IsRequired && !f.HasDefault:
			return gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("%s.%s is required", s.entity.Name, f.Name))
		}
	}
	return nil
}

// nextID increments the sequence of the collection
func (s *Store) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.coll(countersCollection).FindOneAndUpdate(ctx,
		bson.M{idKey: s.entity.Table()},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, convertMongoError(err)
	}
	return counter.Seq, nil
}

// advanceCounter keeps the sequence ahead of explicitly given integer keys
func (s *Store) advanceCounter(ctx context.Context, id any) error {
	pk, _ := s.entity.Field(s.entity.PrimaryKeyField())
	if pk.Type != gcrud.FieldTypeInt && pk.Type != gcrud.FieldTypeBigInt {
		return nil
	}
	n, ok := asInt(id)
	if !ok {
		return nil
	}
	_, err := s.coll(countersCollection).UpdateOne(ctx,
		bson.M{idKey: s.entity.Table()},
		bson.M{"$max": bson.M{"seq": n}},
		options.Update().SetUpsert(true),
	)
	return convertMongoError(err)
}

// document encodes scalars under their document keys
func (s *Store) document(scalars map[string]any) (bson.M, error) {
	doc := make(bson.M, len(scalars))
	for name, value := range scalars {
		f, _ := s.entity.Field(name)
		v, err := encode(f, value)
		if err != nil {
			return nil, err
		}
		doc[key(s.entity, f)] = v
	}
	return doc, nil
}
