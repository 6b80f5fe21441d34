package gcrudmongo

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/lemmego/gcrud"
)

// =====================================
// Predicate Translation
// =====================================

// distinctFunc returns the distinct values of field among the documents of
// collection matching filter
type distinctFunc func(ctx context.Context, collection, field string, filter bson.M) ([]any, error)

// translator turns predicates into bson filters. Relation filters become
// semi-joins: the matching keys of the related collection are read first and
// the owner is filtered with $in or $nin on them.
type translator struct {
	reg      *gcrud.SchemaRegistry
	distinct distinctFunc
}

// matchNone is a filter no document satisfies
var matchNone = bson.M{idKey: bson.M{"$in": bson.A{}}}

func (t *translator) filter(ctx context.Context, entity *gcrud.EntityDescriptor, p map[string]any) (bson.M, error) {
	var parts []bson.M
	for _, k := range gcrud.SortedKeys(p) {
		val := p[k]
		var part bson.M
		var err error

		switch k {
		case gcrud.OpAnd:
			part, err = t.list(ctx, entity, val, "$and")
		case gcrud.OpOr:
			part, err = t.list(ctx, entity, val, "$or")
		case gcrud.OpNotGroup:
			var subs []any
			for _, sub := range gcrud.PredicateList(val) {
				f, err := t.filter(ctx, entity, sub)
				if err != nil {
					return nil, err
				}
				subs = append(subs, f)
			}
			if len(subs) > 0 {
				part = bson.M{"$nor": subs}
			}
		default:
			part, err = t.field(ctx, entity, k, val)
		}
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	return and(parts), nil
}

func (t *translator) list(ctx context.Context, entity *gcrud.EntityDescriptor, v any, op string) (bson.M, error) {
	subs := gcrud.PredicateList(v)
	if len(subs) == 0 {
		if op == "$or" {
			return matchNone, nil
		}
		return nil, nil
	}
	out := make(bson.A, 0, len(subs))
	for _, sub := range subs {
		f, err := t.filter(ctx, entity, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(out) == 1 {
		return out[0].(bson.M), nil
	}
	return bson.M{op: out}, nil
}

func and(parts []bson.M) bson.M {
	switch len(parts) {
	case 0:
		return bson.M{}
	case 1:
		return parts[0]
	}
	list := make(bson.A, len(parts))
	for i, p := range parts {
		list[i] = p
	}
	return bson.M{"$and": list}
}

func (t *translator) field(ctx context.Context, entity *gcrud.EntityDescriptor, name string, filter any) (bson.M, error) {
	f, ok := entity.Field(name)
	if !ok {
		return nil, gcrud.ErrInvalidFieldReference(entity.Name, name)
	}
	if f.IsRelation {
		return t.relation(ctx, entity, f, filter)
	}

	k := key(entity, f)
	cond, isMap := filter.(map[string]any)
	if !isMap {
		v, err := encode(f, filter)
		if err != nil {
			return nil, err
		}
		return bson.M{k: v}, nil
	}
	ops, err := t.scalar(f, cond)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		return nil, nil
	}
	return bson.M{k: ops}, nil
}

// scalar returns the operator document for one field. Negations exclude null
// the way SQL comparisons do.
func (t *translator) scalar(f *gcrud.FieldDescriptor, cond map[string]any) (bson.M, error) {
	insensitive := cond[gcrud.OpMode] == gcrud.ModeInsensitive
	ops := bson.M{}

	for _, op := range gcrud.SortedKeys(cond) {
		operand := cond[op]
		switch op {
		case gcrud.OpMode:
		case gcrud.OpEquals:
			v, err := encode(f, operand)
			if err != nil {
				return nil, err
			}
			ops["$eq"] = v
		case gcrud.OpIn, "notIn":
			list, _ := gcrud.ToSlice(operand)
			values, err := encodeList(f, list)
			if err != nil {
				return nil, err
			}
			if op == gcrud.OpIn {
				ops["$in"] = values
			} else {
				ops["$nin"] = append(values, nil)
			}
		case gcrud.OpContains, "startsWith", "endsWith":
			pattern := regexp.QuoteMeta(fmt.Sprint(operand))
			switch op {
			case "startsWith":
				pattern = "^" + pattern
			case "endsWith":
				pattern += "$"
			}
			ops["$regex"] = pattern
			if insensitive {
				ops["$options"] = "i"
			}
		case gcrud.OpLt, gcrud.OpLte, gcrud.OpGt, gcrud.OpGte:
			v, err := encode(f, operand)
			if err != nil {
				return nil, err
			}
			ops["$"+op] = v
		case gcrud.OpNot:
			switch inner := operand.(type) {
			case nil:
				ops["$ne"] = nil
			case map[string]any:
				sub, err := t.scalar(f, inner)
				if err != nil {
					return nil, err
				}
				if sub == nil {
					continue
				}
				ops["$ne"] = nil
				ops["$not"] = sub
			default:
				v, err := encode(f, inner)
				if err != nil {
					return nil, err
				}
				ops["$nin"] = bson.A{v, nil}
			}
		default:
			return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported scalar filter %q", op))
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return ops, nil
}

func (t *translator) relation(ctx context.Context, entity *gcrud.EntityDescriptor, f *gcrud.FieldDescriptor, filter any) (bson.M, error) {
	info, err := t.reg.Relation(entity.Name, f.Name)
	if err != nil {
		return nil, err
	}

	cond, isMap := filter.(map[string]any)
	if !isMap {
		if filter == nil {
			return t.linked(ctx, info, nil, false)
		}
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("relation filter on %s.%s must be an object", entity.Name, f.Name))
	}

	usesKeywords := false
	for op := range cond {
		if gcrud.IsRelationKeyword(op) || op == gcrud.OpNot {
			usesKeywords = true
		}
	}
	if !usesKeywords {
		return t.linked(ctx, info, cond, true)
	}

	var parts []bson.M
	for _, op := range gcrud.SortedKeys(cond) {
		operand := cond[op]
		sub, _ := operand.(map[string]any)
		var part bson.M

		switch op {
		case gcrud.OpSome:
			part, err = t.linked(ctx, info, sub, true)
		case gcrud.OpNone:
			part, err = t.linked(ctx, info, sub, false)
		case gcrud.OpEvery:
			part, err = t.linked(ctx, info, map[string]any{gcrud.OpNotGroup: []any{sub}}, false)
		case gcrud.OpIs:
			if operand == nil {
				part, err = t.linked(ctx, info, nil, false)
				break
			}
			part, err = t.linked(ctx, info, sub, true)
		case gcrud.OpIsNot:
			if operand == nil {
				part, err = t.linked(ctx, info, nil, true)
				break
			}
			part, err = t.linked(ctx, info, sub, false)
		case gcrud.OpNot:
			if operand != nil {
				return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported, "relation not filter only accepts null")
			}
			part, err = t.linked(ctx, info, nil, true)
		default:
			return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported relation filter %q", op))
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return and(parts), nil
}

// linked filters owners that have (match) or have no (!match) related
// document satisfying where. A nil where accepts any related document.
func (t *translator) linked(ctx context.Context, info *gcrud.RelationInfo, where map[string]any, match bool) (bson.M, error) {
	target := info.Target
	sub := bson.M{}
	if where != nil {
		var err error
		if sub, err = t.filter(ctx, target, where); err != nil {
			return nil, err
		}
	}

	var ownerKey string
	var values []any
	switch info.Kind {
	case gcrud.RelationKindToOne:
		fk, ref, err := foreignKey(info.Field, info.Owner, target)
		if err != nil {
			return nil, err
		}
		ownerKey = key(info.Owner, fk)
		refKey := key(target, ref)
		values, err = t.distinct(ctx, target.Table(), refKey, and([]bson.M{sub, {refKey: bson.M{"$ne": nil}}}))
		if err != nil {
			return nil, err
		}

	case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
		fk, ref, err := foreignKey(info.Opposite, target, info.Owner)
		if err != nil {
			return nil, err
		}
		ownerKey = key(info.Owner, ref)
		fkKey := key(target, fk)
		values, err = t.distinct(ctx, target.Table(), fkKey, and([]bson.M{sub, {fkKey: bson.M{"$ne": nil}}}))
		if err != nil {
			return nil, err
		}

	case gcrud.RelationKindManyToMany:
		ownerKey = idKey
		targets, err := t.distinct(ctx, target.Table(), idKey, sub)
		if err != nil {
			return nil, err
		}
		values, err = t.distinct(ctx, info.JoinTable, info.OwnerColumn, bson.M{info.TargetColumn: bson.M{"$in": targets}})
		if err != nil {
			return nil, err
		}

	default:
		return nil, gcrud.ErrInvalidFieldReference(info.Owner.Name, info.Field.Name)
	}

	if values == nil {
		values = []any{}
	}
	if match {
		return bson.M{ownerKey: bson.M{"$in": values}}, nil
	}
	return bson.M{ownerKey: bson.M{"$nin": values}}, nil
}

// foreignKey returns the single foreign key field on holder and the field it references on referenced
func foreignKey(rel *gcrud.FieldDescriptor, holder, referenced *gcrud.EntityDescriptor) (fk, ref *gcrud.FieldDescriptor, err error) {
	if rel == nil || len(rel.RelationFromFields) != 1 {
		return nil, nil, gcrud.NewError(gcrud.ErrorTypeUnsupported,
			fmt.Sprintf("relation on %s: only single field foreign keys are supported", holder.Name))
	}
	refName := referenced.PrimaryKeyField()
	if len(rel.RelationToFields) == 1 {
		refName = rel.RelationToFields[0]
	}
	fk, ok := holder.Field(rel.RelationFromFields[0])
	if !ok {
		return nil, nil, gcrud.ErrInvalidFieldReference(holder.Name, rel.RelationFromFields[0])
	}
	ref, ok = referenced.Field(refName)
	if !ok {
		return nil, nil, gcrud.ErrInvalidFieldReference(referenced.Name, refName)
	}
	return fk, ref, nil
}
