package gcrud

import "strings"

// Selection is a store-native projection: {field: true, relation: {select: {...}}}
type Selection = map[string]any

// SelectKey is the nested projection keyword
const SelectKey = "select"

// BuildSelection turns field paths into a projection. Dotted paths select
// through relations: "roles.name" becomes {roles: {select: {name: true}}}.
// No fields means the store's default projection and yields nil.
func BuildSelection(fields []string) Selection {
	if len(fields) == 0 {
		return nil
	}
	sel := Selection{}
	for _, f := range fields {
		addSelectPath(sel, strings.Split(f, "."))
	}
	return sel
}

func addSelectPath(sel Selection, path []string) {
	head := path[0]
	if len(path) == 1 {
		if _, ok := sel[head].(map[string]any); !ok {
			sel[head] = true
		}
		return
	}
	node, ok := sel[head].(map[string]any)
	if !ok {
		node = map[string]any{SelectKey: map[string]any{}}
		sel[head] = node
	}
	addSelectPath(node[SelectKey].(map[string]any), path[1:])
}

// SelectedFields splits a projection into plain field names and nested
// relation projections. A relation selected with true maps to a nil projection.
func SelectedFields(sel Selection) (fields []string, relations map[string]Selection) {
	relations = make(map[string]Selection)
	for _, k := range SortedKeys(sel) {
		switch v := sel[k].(type) {
		case bool:
			if v {
				fields = append(fields, k)
			}
		case map[string]any:
			nested, _ := v[SelectKey].(map[string]any)
			relations[k] = nested
		}
	}
	return fields, relations
}
