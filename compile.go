package gcrud

import "strings"

// =====================================
// Filter Compilation
// =====================================

// Compiler turns filter groups into store-native predicates using the
// registry's field metadata. It holds no mutable state.
type Compiler struct {
	registry *SchemaRegistry
}

// NewCompiler creates a compiler over registry
func NewCompiler(registry *SchemaRegistry) *Compiler {
	return &Compiler{registry: registry}
}

// CompileGroup compiles one group into a predicate whose entries are AND-ed.
// Entries are visited in field name order so equal input gives equal output.
func (c *Compiler) CompileGroup(entity string, group FilterGroup) (Predicate, error) {
	if _, err := c.registry.Entity(entity); err != nil {
		return nil, err
	}

	names := SortedKeys(group)
	for _, name := range names {
		if mode := group[name].Mode; !mode.Valid() {
			return nil, ErrUnsupportedFilterMode(name, mode)
		}
	}

	p := Predicate{}
	for _, name := range names {
		spec := group[name]
		path, leaf, err := c.resolve(entity, name, spec.NestedFieldPath)
		if err != nil {
			return nil, err
		}
		applyMode(p, spec.Mode, modeTarget{
			path:       path,
			field:      leaf,
			isRelation: spec.IsRelation,
			value:      spec.Value,
		})
	}
	return p, nil
}

// CompileDisjunction ORs the compiled groups in order. No groups compile to
// the empty predicate, which matches every record.
func (c *Compiler) CompileDisjunction(entity string, groups []FilterGroup) (Predicate, error) {
	if len(groups) == 0 {
		if _, err := c.registry.Entity(entity); err != nil {
			return nil, err
		}
		return Predicate{}, nil
	}

	or := make([]any, 0, len(groups))
	for _, g := range groups {
		p, err := c.CompileGroup(entity, g)
		if err != nil {
			return nil, err
		}
		or = append(or, p)
	}
	return Predicate{OpOr: or}, nil
}

// resolve returns the predicate path for a filter entry and the descriptor of
// the field at its end. The entry name must be a field of entity; a nested
// path is walked through relation targets, skipping relation keywords.
func (c *Compiler) resolve(entity, name, nested string) ([]string, *FieldDescriptor, error) {
	field, err := c.registry.Field(entity, name)
	if err != nil {
		return nil, nil, err
	}
	if nested == "" {
		return []string{name}, field, nil
	}

	path := strings.Split(nested, ".")
	leaf, err := c.ResolvePath(entity, path)
	if err != nil {
		return nil, nil, err
	}
	return path, leaf, nil
}

// ResolvePath walks a dotted predicate path from entity and returns the
// descriptor of the last named field
func (c *Compiler) ResolvePath(entity string, path []string) (*FieldDescriptor, error) {
	current := entity
	var leaf *FieldDescriptor
	for _, seg := range path {
		if IsRelationKeyword(seg) {
			continue
		}
		if leaf != nil {
			if !leaf.IsRelation {
				return nil, ErrInvalidFieldReference(current, seg)
			}
			current = leaf.RelationTarget
		}
		f, err := c.registry.Field(current, seg)
		if err != nil {
			return nil, err
		}
		leaf = f
	}
	if leaf == nil {
		return nil, ErrInvalidFieldReference(entity, strings.Join(path, "."))
	}
	return leaf, nil
}

// ValidateFields checks that every dotted field path names existing fields
func (c *Compiler) ValidateFields(entity string, fields []string) error {
	for _, f := range fields {
		if _, err := c.ResolvePath(entity, strings.Split(f, ".")); err != nil {
			return err
		}
	}
	return nil
}
