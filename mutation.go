package gcrud

// RelationValueMapper rewrites a relation value before it is wrapped in a directive
type RelationValueMapper func(value any) any

// UpdateOptions controls how relation fields of an update are written
type UpdateOptions struct {
	// RelationOperation defaults to RelationSet
	RelationOperation RelationOperation
	// RelationValueMapper defaults to DefaultRelationValueMapper
	RelationValueMapper RelationValueMapper
	NullRelations       NullRelationPolicy
}

// DefaultRelationValueMapper maps a list of ids to [{id}, ...] and a single id to {id}
func DefaultRelationValueMapper(value any) any {
	if list, ok := ToSlice(value); ok {
		out := make([]any, len(list))
		for i, id := range list {
			out[i] = map[string]any{"id": id}
		}
		return out
	}
	return map[string]any{"id": value}
}

// BuildUpdatePayload partitions data into scalar fields, copied as given, and
// relation fields, each wrapped as {operation: mapped value}. A key that is
// not a scalar field of entity is treated as a relation.
func BuildUpdatePayload(entity *EntityDescriptor, data Record, opts UpdateOptions) Record {
	op := opts.RelationOperation
	if op == "" {
		op = RelationSet
	}
	mapper := opts.RelationValueMapper
	if mapper == nil {
		mapper = DefaultRelationValueMapper
	}

	scalars := make(map[string]struct{}, len(entity.Fields))
	for _, name := range entity.ScalarFieldNames() {
		scalars[name] = struct{}{}
	}

	payload := make(Record, len(data))
	for key, value := range data {
		if _, ok := scalars[key]; ok {
			payload[key] = value
			continue
		}
		if value == nil {
			if opts.NullRelations == NullRelationDisconnect {
				payload[key] = map[string]any{string(RelationDisconnect): true}
			}
			continue
		}
		payload[key] = map[string]any{string(op): mapper(value)}
	}
	return payload
}

// RelationDirective splits a relation payload value into its operation and operand
func RelationDirective(v any) (RelationOperation, any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, false
	}
	for k, operand := range m {
		return RelationOperation(k), operand, true
	}
	return "", nil, false
}

// DirectiveIDs extracts the ids from a mapped relation operand ({id} or [{id}, ...])
func DirectiveIDs(operand any) []any {
	if m, ok := operand.(map[string]any); ok {
		if id, ok := m["id"]; ok {
			return []any{id}
		}
		return nil
	}
	list, ok := ToSlice(operand)
	if !ok {
		if operand == nil {
			return nil
		}
		return []any{operand}
	}
	ids := make([]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			if id, ok := m["id"]; ok {
				ids = append(ids, id)
			}
			continue
		}
		ids = append(ids, e)
	}
	return ids
}
