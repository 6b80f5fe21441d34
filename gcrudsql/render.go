package gcrudsql

import (
	"fmt"
	"strings"

	"github.com/lemmego/gcrud"
)

// likeEscape is the LIKE escape character. It is not special in any
// supported dialect's string literals.
const likeEscape = "!"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// builder accumulates one statement's text arguments and table aliases
type builder struct {
	reg     *gcrud.SchemaRegistry
	dialect Dialect
	args    []any
	aliases int
}

func newBuilder(reg *gcrud.SchemaRegistry, d Dialect) *builder {
	return &builder{reg: reg, dialect: d}
}

func (b *builder) alias() string {
	b.aliases++
	return fmt.Sprintf("t%d", b.aliases)
}

func (b *builder) q(ident string) string {
	return b.dialect.Quote(ident)
}

func (b *builder) table(e *gcrud.EntityDescriptor) string {
	return b.q(e.Table())
}

func (b *builder) col(alias string, f *gcrud.FieldDescriptor) string {
	return alias + "." + b.q(f.Column())
}

func (b *builder) bind(f *gcrud.FieldDescriptor, v any) (string, error) {
	arg, err := encode(f, v)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, arg)
	return "?", nil
}

func (b *builder) bindList(f *gcrud.FieldDescriptor, list []any) (string, error) {
	marks := make([]string, len(list))
	for i, v := range list {
		m, err := b.bind(f, v)
		if err != nil {
			return "", err
		}
		marks[i] = m
	}
	return "(" + strings.Join(marks, ", ") + ")", nil
}

// where renders p for entity aliased as alias. An empty predicate is "1=1".
func (b *builder) where(entity *gcrud.EntityDescriptor, alias string, p map[string]any) (string, error) {
	var parts []string
	for _, key := range gcrud.SortedKeys(p) {
		val := p[key]
		var s string
		var err error

		switch key {
		case gcrud.OpAnd:
			s, err = b.list(entity, alias, val, " AND ", "1=1")
		case gcrud.OpOr:
			s, err = b.list(entity, alias, val, " OR ", "1=0")
		case gcrud.OpNotGroup:
			s, err = b.list(entity, alias, val, " OR ", "1=0")
			s = "NOT (" + s + ")"
		default:
			s, err = b.field(entity, alias, key, val)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return joinParts(parts, " AND ", "1=1"), nil
}

func (b *builder) list(entity *gcrud.EntityDescriptor, alias string, v any, sep, empty string) (string, error) {
	var parts []string
	for _, sub := range gcrud.PredicateList(v) {
		s, err := b.where(entity, alias, sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return joinParts(parts, sep, empty), nil
}

func joinParts(parts []string, sep, empty string) string {
	switch len(parts) {
	case 0:
		return empty
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (b *builder) field(entity *gcrud.EntityDescriptor, alias, name string, filter any) (string, error) {
	f, ok := entity.Field(name)
	if !ok {
		return "", gcrud.ErrInvalidFieldReference(entity.Name, name)
	}
	if f.IsRelation {
		return b.relation(entity, alias, f, filter)
	}

	col := b.col(alias, f)
	cond, isMap := filter.(map[string]any)
	if !isMap {
		if filter == nil {
			return col + " IS NULL", nil
		}
		m, err := b.bind(f, filter)
		if err != nil {
			return "", err
		}
		return col + " = " + m, nil
	}
	return b.scalar(f, col, cond)
}

func (b *builder) scalar(f *gcrud.FieldDescriptor, col string, cond map[string]any) (string, error) {
	insensitive := cond[gcrud.OpMode] == gcrud.ModeInsensitive

	var parts []string
	for _, op := range gcrud.SortedKeys(cond) {
		operand := cond[op]
		var s string
		var err error

		switch op {
		case gcrud.OpMode:
			continue
		case gcrud.OpEquals:
			if operand == nil {
				s = col + " IS NULL"
				break
			}
			s, err = b.compare(f, col, "=", operand)
		case gcrud.OpNot:
			switch t := operand.(type) {
			case nil:
				s = col + " IS NOT NULL"
			case map[string]any:
				var inner string
				inner, err = b.scalar(f, col, t)
				s = "(" + col + " IS NOT NULL AND NOT (" + inner + "))"
			default:
				var cmp string
				cmp, err = b.compare(f, col, "<>", t)
				s = "(" + col + " IS NOT NULL AND " + cmp + ")"
			}
		case gcrud.OpIn, "notIn":
			list, _ := gcrud.ToSlice(operand)
			if len(list) == 0 {
				if op == gcrud.OpIn {
					s = "1=0"
				} else {
					s = col + " IS NOT NULL"
				}
				break
			}
			var marks string
			marks, err = b.bindList(f, list)
			if op == gcrud.OpIn {
				s = col + " IN " + marks
			} else {
				s = col + " NOT IN " + marks
			}
		case gcrud.OpContains, "startsWith", "endsWith":
			pattern := likeEscaper.Replace(fmt.Sprint(operand))
			switch op {
			case gcrud.OpContains:
				pattern = "%" + pattern + "%"
			case "startsWith":
				pattern += "%"
			default:
				pattern = "%" + pattern
			}
			b.args = append(b.args, pattern)
			if insensitive {
				s = "LOWER(" + col + ") LIKE LOWER(?) ESCAPE '" + likeEscape + "'"
			} else {
				s = col + " LIKE ? ESCAPE '" + likeEscape + "'"
			}
		case gcrud.OpLt:
			s, err = b.compare(f, col, "<", operand)
		case gcrud.OpLte:
			s, err = b.compare(f, col, "<=", operand)
		case gcrud.OpGt:
			s, err = b.compare(f, col, ">", operand)
		case gcrud.OpGte:
			s, err = b.compare(f, col, ">=", operand)
		default:
			return "", gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported scalar filter %q", op))
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return joinParts(parts, " AND ", "1=1"), nil
}

func (b *builder) compare(f *gcrud.FieldDescriptor, col, op string, v any) (string, error) {
	m, err := b.bind(f, v)
	if err != nil {
		return "", err
	}
	return col + " " + op + " " + m, nil
}

func (b *builder) relation(entity *gcrud.EntityDescriptor, alias string, f *gcrud.FieldDescriptor, filter any) (string, error) {
	info, err := b.reg.Relation(entity.Name, f.Name)
	if err != nil {
		return "", err
	}

	cond, isMap := filter.(map[string]any)
	if !isMap {
		if filter == nil {
			return b.linked(info, alias, nil, false)
		}
		return "", gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("relation filter on %s.%s must be an object", entity.Name, f.Name))
	}

	usesKeywords := false
	for op := range cond {
		if gcrud.IsRelationKeyword(op) || op == gcrud.OpNot {
			usesKeywords = true
		}
	}
	if !usesKeywords {
		return b.linked(info, alias, cond, true)
	}

	var parts []string
	for _, op := range gcrud.SortedKeys(cond) {
		operand := cond[op]
		sub, _ := operand.(map[string]any)
		var s string

		switch op {
		case gcrud.OpSome:
			s, err = b.linked(info, alias, sub, true)
		case gcrud.OpNone:
			s, err = b.linked(info, alias, sub, false)
		case gcrud.OpEvery:
			s, err = b.linked(info, alias, map[string]any{gcrud.OpNotGroup: []any{sub}}, false)
		case gcrud.OpIs:
			if operand == nil {
				s, err = b.linked(info, alias, nil, false)
				break
			}
			s, err = b.linked(info, alias, sub, true)
		case gcrud.OpIsNot:
			if operand == nil {
				s, err = b.linked(info, alias, nil, true)
				break
			}
			s, err = b.linked(info, alias, sub, false)
		case gcrud.OpNot:
			if operand != nil {
				return "", gcrud.NewError(gcrud.ErrorTypeUnsupported, "relation not filter only accepts null")
			}
			s, err = b.linked(info, alias, nil, true)
		default:
			return "", gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported relation filter %q", op))
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return joinParts(parts, " AND ", "1=1"), nil
}

// linked renders "the row at alias has (match) or has no (!match) related
// row satisfying where". A nil where accepts any related row.
func (b *builder) linked(info *gcrud.RelationInfo, alias string, where map[string]any, match bool) (string, error) {
	target := info.Target
	t := b.alias()

	var key, sub string
	switch info.Kind {
	case gcrud.RelationKindToOne:
		from, to, err := foreignKey(info.Field, info.Owner, info.Target)
		if err != nil {
			return "", err
		}
		key = b.col(alias, from)
		sub = "SELECT " + b.col(t, to) + " FROM " + b.table(target) + " " + t + " WHERE " + b.col(t, to) + " IS NOT NULL"

	case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
		fk, ref, err := foreignKey(info.Opposite, info.Target, info.Owner)
		if err != nil {
			return "", err
		}
		key = b.col(alias, ref)
		sub = "SELECT " + b.col(t, fk) + " FROM " + b.table(target) + " " + t + " WHERE " + b.col(t, fk) + " IS NOT NULL"

	case gcrud.RelationKindManyToMany:
		j := b.alias()
		ownerPK, targetPK, err := primaryKeys(info)
		if err != nil {
			return "", err
		}
		key = b.col(alias, ownerPK)
		sub = "SELECT " + j + "." + b.q(info.OwnerColumn) +
			" FROM " + b.q(info.JoinTable) + " " + j +
			" INNER JOIN " + b.table(target) + " " + t +
			" ON " + b.col(t, targetPK) + " = " + j + "." + b.q(info.TargetColumn) +
			" WHERE 1=1"

	default:
		return "", gcrud.ErrInvalidFieldReference(info.Owner.Name, info.Field.Name)
	}

	if where != nil {
		cond, err := b.where(target, t, where)
		if err != nil {
			return "", err
		}
		sub += " AND " + cond
	}

	if match {
		return key + " IN (" + sub + ")", nil
	}
	return "(" + key + " IS NULL OR " + key + " NOT IN (" + sub + "))", nil
}

// foreignKey returns the single foreign key field on holder and the field it references on referenced
func foreignKey(rel *gcrud.FieldDescriptor, holder, referenced *gcrud.EntityDescriptor) (fk, ref *gcrud.FieldDescriptor, err error) {
	if rel == nil || len(rel.RelationFromFields) != 1 {
		return nil, nil, gcrud.NewError(gcrud.ErrorTypeUnsupported,
			fmt.Sprintf("relation %s.%s: only single column foreign keys are supported", holder.Name, fieldName(rel)))
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

func primaryKeys(info *gcrud.RelationInfo) (owner, target *gcrud.FieldDescriptor, err error) {
	owner, ok := info.Owner.Field(info.Owner.PrimaryKeyField())
	if !ok {
		return nil, nil, gcrud.ErrInvalidFieldReference(info.Owner.Name, info.Owner.PrimaryKeyField())
	}
	target, ok = info.Target.Field(info.Target.PrimaryKeyField())
	if !ok {
		return nil, nil, gcrud.ErrInvalidFieldReference(info.Target.Name, info.Target.PrimaryKeyField())
	}
	return owner, target, nil
}

func fieldName(f *gcrud.FieldDescriptor) string {
	if f == nil {
		return "?"
	}
	return f.Name
}
