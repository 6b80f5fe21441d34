package gcrud

import (
	"reflect"
	"sort"
)

// =====================================
// Native Predicates
// =====================================

// Predicate is a store-native where tree. Keys are field names or the operator
// keywords below; nested levels are plain map[string]any.
type Predicate = map[string]any

// Predicate operator keywords
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpMode     = "mode"
	OpIn       = "in"
	OpNot      = "not"
	OpLt       = "lt"
	OpLte      = "lte"
	OpGt       = "gt"
	OpGte      = "gte"
	OpSome     = "some"
	OpEvery    = "every"
	OpNone     = "none"
	OpIs       = "is"
	OpIsNot    = "isNot"
	OpAnd      = "AND"
	OpOr       = "OR"
	OpNotGroup = "NOT"

	// ModeInsensitive is the only value the mode keyword takes
	ModeInsensitive = "insensitive"
)

// IsRelationKeyword reports whether key steps through a relation rather than naming a field
func IsRelationKeyword(key string) bool {
	switch key {
	case OpSome, OpEvery, OpNone, OpIs, OpIsNot:
		return true
	}
	return false
}

// SetPath deep-merges fragment into p at path, creating intermediate levels.
// A non-map fragment replaces whatever is stored at path.
func SetPath(p Predicate, path []string, fragment any) {
	if len(path) == 0 {
		if m, ok := fragment.(map[string]any); ok {
			MergePredicates(p, m)
		}
		return
	}
	cur := p
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	leaf := path[len(path)-1]
	if m, ok := fragment.(map[string]any); ok {
		if existing, ok := cur[leaf].(map[string]any); ok {
			MergePredicates(existing, m)
			return
		}
		cur[leaf] = ClonePredicate(m)
		return
	}
	cur[leaf] = fragment
}

// MergePredicates deep-merges src into dst
func MergePredicates(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				MergePredicates(dm, sm)
				continue
			}
			dst[k] = ClonePredicate(sm)
			continue
		}
		dst[k] = v
	}
}

// ClonePredicate returns a deep copy of p's map and slice levels
func ClonePredicate(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePredicate(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// PredicateList normalizes the operand of AND / OR / NOT into a list of predicates
func PredicateList(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// SortedKeys returns the keys of m in lexical order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToSlice reports whether v is a list value and returns its elements.
// Strings and byte slices are scalars.
func ToSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return t, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
