package gcrud

import (
	"fmt"
	"time"
)

// =====================================
// Filter Modes
// =====================================

const calendarDate = "2006-01-02"

// modeTarget is everything a mode needs to emit its fragment
type modeTarget struct {
	path       []string
	field      *FieldDescriptor
	isRelation bool
	value      any
}

// applyMode merges the fragment for mode into p. Modes that do not apply to
// the field's type leave p untouched.
func applyMode(p Predicate, mode FilterMode, t modeTarget) {
	switch mode {
	case ModeEqual:
		applyEqual(p, t)
	case ModeExclude:
		applyExclude(p, t)
	case ModeLess:
		applyCompare(p, t, OpLt)
	case ModeGreater:
		applyCompare(p, t, OpGt)
	case ModeEmpty:
		applyEmpty(p, t)
	case ModeNotEmpty:
		applyNotEmpty(p, t)
	case ModeRange:
		applyRange(p, t)
	}
}

func applyEqual(p Predicate, t modeTarget) {
	if t.value == nil {
		return
	}
	if ids, ok := relationIDs(t); ok {
		SetPath(p, t.path, map[string]any{
			relationMatchKeyword(t, true): map[string]any{"id": map[string]any{OpIn: ids}},
		})
		return
	}
	if list, ok := ToSlice(t.value); ok {
		SetPath(p, t.path, map[string]any{OpIn: list})
		return
	}

	switch t.field.Type {
	case FieldTypeString:
		SetPath(p, t.path, map[string]any{OpContains: containsText(t.value), OpMode: ModeInsensitive})
	case FieldTypeDateTime:
		if day, ok := dayRange(t.value); ok {
			SetPath(p, t.path, day)
			return
		}
		SetPath(p, t.path, map[string]any{OpEquals: t.value})
	case FieldTypeInt, FieldTypeBigInt, FieldTypeFloat, FieldTypeDecimal, FieldTypeBoolean:
		SetPath(p, t.path, map[string]any{OpEquals: t.value})
	}
}

func applyExclude(p Predicate, t modeTarget) {
	if t.value == nil {
		return
	}
	if ids, ok := relationIDs(t); ok {
		SetPath(p, t.path, map[string]any{
			relationMatchKeyword(t, false): map[string]any{"id": map[string]any{OpIn: ids}},
		})
		return
	}
	if list, ok := ToSlice(t.value); ok {
		SetPath(p, t.path, map[string]any{OpNot: map[string]any{OpIn: list}})
		return
	}

	switch t.field.Type {
	case FieldTypeString:
		SetPath(p, t.path, map[string]any{OpNot: map[string]any{OpContains: containsText(t.value), OpMode: ModeInsensitive}})
	case FieldTypeDateTime:
		if day, ok := dayRange(t.value); ok {
			SetPath(p, t.path, map[string]any{OpNot: day})
			return
		}
		SetPath(p, t.path, map[string]any{OpNot: map[string]any{OpEquals: t.value}})
	case FieldTypeInt, FieldTypeBigInt, FieldTypeFloat, FieldTypeDecimal, FieldTypeBoolean:
		SetPath(p, t.path, map[string]any{OpNot: map[string]any{OpEquals: t.value}})
	}
}

func applyCompare(p Predicate, t modeTarget, op string) {
	if t.value == nil || t.field.IsRelation {
		return
	}
	if _, ok := ToSlice(t.value); ok {
		return
	}
	if t.field.Type.IsNumeric() || t.field.Type == FieldTypeDateTime {
		SetPath(p, t.path, map[string]any{op: t.value})
	}
}

func applyEmpty(p Predicate, t modeTarget) {
	if t.field.IsRelation || t.field.IsRequired {
		return
	}
	SetPath(p, t.path, nil)
}

func applyNotEmpty(p Predicate, t modeTarget) {
	if t.field.IsRelation || t.field.IsRequired {
		return
	}
	SetPath(p, t.path, map[string]any{OpNot: nil})
}

func applyRange(p Predicate, t modeTarget) {
	if t.field.IsRelation {
		return
	}
	bounds, ok := ToSlice(t.value)
	if !ok || len(bounds) != 2 {
		return
	}
	SetPath(p, t.path, map[string]any{OpGte: bounds[0], OpLte: bounds[1]})
}

// containsText is the substring a String field is matched against; other
// scalars match on their printed form.
func containsText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// relationIDs returns the id list a relation filter matches on. A scalar
// value on a relation field is a one-element list; the caller's relation flag
// only turns list values into id matches.
func relationIDs(t modeTarget) ([]any, bool) {
	list, isList := ToSlice(t.value)
	switch {
	case t.field.IsRelation && isList:
		return list, true
	case t.field.IsRelation:
		return []any{t.value}, true
	case t.isRelation && isList:
		return list, true
	}
	return nil, false
}

// relationMatchKeyword picks the relation filter keyword: some/none on list
// relations, is/isNot on to-one relations.
func relationMatchKeyword(t modeTarget, match bool) string {
	toOne := t.field.IsRelation && !t.field.IsList
	switch {
	case match && toOne:
		return OpIs
	case match:
		return OpSome
	case toOne:
		return OpIsNot
	default:
		return OpNone
	}
}

// dayRange expands a calendar date string into the half-open UTC interval of that day
func dayRange(v any) (map[string]any, bool) {
	s, ok := v.(string)
	if !ok || len(s) != len(calendarDate) {
		return nil, false
	}
	day, err := time.Parse(calendarDate, s)
	if err != nil {
		return nil, false
	}
	return map[string]any{OpGte: day, OpLt: day.AddDate(0, 0, 1)}, true
}
