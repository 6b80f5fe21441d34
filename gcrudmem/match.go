package gcrudmem

import (
	"fmt"
	"strings"

	"github.com/lemmego/gcrud"
)

// matches evaluates where against row of entity. Callers hold p.mu.
func (p *Provider) matches(entity string, row gcrud.Record, where gcrud.Predicate) (bool, error) {
	for _, key := range gcrud.SortedKeys(where) {
		val := where[key]
		var ok bool
		var err error

		switch key {
		case gcrud.OpAnd:
			ok, err = p.matchAll(entity, row, gcrud.PredicateList(val))
		case gcrud.OpOr:
			ok, err = p.matchAny(entity, row, gcrud.PredicateList(val))
		case gcrud.OpNotGroup:
			ok, err = p.matchAny(entity, row, gcrud.PredicateList(val))
			ok = !ok
		default:
			ok, err = p.matchField(entity, row, key, val)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *Provider) matchAll(entity string, row gcrud.Record, list []map[string]any) (bool, error) {
	for _, sub := range list {
		ok, err := p.matches(entity, row, sub)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *Provider) matchAny(entity string, row gcrud.Record, list []map[string]any) (bool, error) {
	for _, sub := range list {
		ok, err := p.matches(entity, row, sub)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) matchField(entity string, row gcrud.Record, name string, filter any) (bool, error) {
	f, err := p.schema.Field(entity, name)
	if err != nil {
		return false, err
	}
	if f.IsRelation {
		return p.matchRelation(entity, row, f, filter)
	}

	cond, isMap := filter.(map[string]any)
	if !isMap {
		return equal(row[name], filter), nil
	}
	return matchScalar(row[name], cond)
}

func matchScalar(v any, cond map[string]any) (bool, error) {
	insensitive := cond[gcrud.OpMode] == gcrud.ModeInsensitive

	for op, operand := range cond {
		var ok bool
		switch op {
		case gcrud.OpMode:
			continue
		case gcrud.OpEquals:
			ok = equal(v, operand)
		case gcrud.OpNot:
			switch t := operand.(type) {
			case nil:
				ok = v != nil
			case map[string]any:
				inner, err := matchScalar(v, t)
				if err != nil {
					return false, err
				}
				ok = v != nil && !inner
			default:
				ok = v != nil && !equal(v, t)
			}
		case gcrud.OpIn, "notIn":
			list, _ := gcrud.ToSlice(operand)
			found := false
			for _, e := range list {
				if equal(v, e) {
					found = true
					break
				}
			}
			ok = v != nil && found == (op == gcrud.OpIn)
		case gcrud.OpContains, "startsWith", "endsWith":
			s, isStr := v.(string)
			needle, needleStr := operand.(string)
			if !isStr || !needleStr {
				ok = false
				break
			}
			if insensitive {
				s, needle = strings.ToLower(s), strings.ToLower(needle)
			}
			switch op {
			case gcrud.OpContains:
				ok = strings.Contains(s, needle)
			case "startsWith":
				ok = strings.HasPrefix(s, needle)
			default:
				ok = strings.HasSuffix(s, needle)
			}
		case gcrud.OpLt, gcrud.OpLte, gcrud.OpGt, gcrud.OpGte:
			c, comparable := compare(v, operand)
			if !comparable {
				ok = false
				break
			}
			switch op {
			case gcrud.OpLt:
				ok = c < 0
			case gcrud.OpLte:
				ok = c <= 0
			case gcrud.OpGt:
				ok = c > 0
			default:
				ok = c >= 0
			}
		default:
			return false, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported scalar filter %q", op))
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (p *Provider) matchRelation(entity string, row gcrud.Record, f *gcrud.FieldDescriptor, filter any) (bool, error) {
	related, err := p.related(entity, row, f.Name)
	if err != nil {
		return false, err
	}
	target := f.RelationTarget

	cond, isMap := filter.(map[string]any)
	if !isMap {
		if filter == nil {
			return len(related) == 0, nil
		}
		return false, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("relation filter on %s.%s must be an object", entity, f.Name))
	}

	usesKeywords := false
	for op := range cond {
		if gcrud.IsRelationKeyword(op) || op == gcrud.OpNot {
			usesKeywords = true
		}
	}
	// A to-one relation may be filtered by a plain where on the target.
	if !usesKeywords {
		return p.anyMatches(target, related, cond)
	}

	for op, operand := range cond {
		sub, _ := operand.(map[string]any)
		var ok bool
		switch op {
		case gcrud.OpSome:
			ok, err = p.anyMatches(target, related, sub)
		case gcrud.OpNone:
			ok, err = p.anyMatches(target, related, sub)
			ok = !ok
		case gcrud.OpEvery:
			ok, err = p.allMatch(target, related, sub)
		case gcrud.OpIs:
			if operand == nil {
				ok = len(related) == 0
				break
			}
			ok, err = p.anyMatches(target, related, sub)
		case gcrud.OpIsNot:
			if operand == nil {
				ok = len(related) > 0
				break
			}
			ok, err = p.anyMatches(target, related, sub)
			ok = !ok
		case gcrud.OpNot:
			if operand != nil {
				return false, gcrud.NewError(gcrud.ErrorTypeUnsupported, "relation not filter only accepts null")
			}
			ok = len(related) > 0
		default:
			return false, gcrud.NewError(gcrud.ErrorTypeUnsupported, fmt.Sprintf("unsupported relation filter %q", op))
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p *Provider) anyMatches(entity string, rows []gcrud.Record, where map[string]any) (bool, error) {
	for _, r := range rows {
		ok, err := p.matches(entity, r, where)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) allMatch(entity string, rows []gcrud.Record, where map[string]any) (bool, error) {
	for _, r := range rows {
		ok, err := p.matches(entity, r, where)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
