package gcrud

import (
	"fmt"
	"sort"
	"strings"
)

// =====================================
// Entity Metadata
// =====================================

// EntityDescriptor contains metadata about an entity
type EntityDescriptor struct {
	Name          string
	DBName        string
	Fields        []FieldDescriptor
	PrimaryKey    []string
	UniqueFields  [][]string
	DisplayFields []string
	Documentation string
}

// FieldDescriptor contains metadata about a field
type FieldDescriptor struct {
	Name           string
	DBName         string
	Type           FieldType
	RelationTarget string
	IsRequired     bool
	IsList         bool
	IsUnique       bool
	IsID           bool
	IsRelation     bool
	IsUpdatedAt    bool
	HasDefault     bool
	Documentation  string

	// Relation join metadata
	RelationName       string
	RelationFromFields []string
	RelationToFields   []string
}

// Column returns the storage name of the field
func (f *FieldDescriptor) Column() string {
	if f.DBName != "" {
		return f.DBName
	}
	return f.Name
}

// IsOptional reports whether the field may hold null
func (f *FieldDescriptor) IsOptional() bool {
	return !f.IsRequired
}

// Table returns the storage name of the entity
func (e *EntityDescriptor) Table() string {
	if e.DBName != "" {
		return e.DBName
	}
	return e.Name
}

// PrimaryKeyField returns the first primary key field, "id" when none is declared
func (e *EntityDescriptor) PrimaryKeyField() string {
	if len(e.PrimaryKey) > 0 {
		return e.PrimaryKey[0]
	}
	return "id"
}

// Field looks up a field by name
func (e *EntityDescriptor) Field(name string) (*FieldDescriptor, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// ScalarFieldNames returns the names of all non-relation fields in declaration order
func (e *EntityDescriptor) ScalarFieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if !f.IsRelation {
			names = append(names, f.Name)
		}
	}
	return names
}

// FieldIndex maps field name to descriptor for one entity
type FieldIndex map[string]*FieldDescriptor

// RelationKind classifies how a relation field is stored
type RelationKind int

const (
	RelationKindNone RelationKind = iota
	// RelationKindToOne holds the foreign key on the owning entity
	RelationKindToOne
	// RelationKindToOneInverse is the back side of a one-to-one, key held by the target
	RelationKindToOneInverse
	// RelationKindOneToMany is a list whose foreign key is held by the target
	RelationKindOneToMany
	// RelationKindManyToMany goes through an implicit join table
	RelationKindManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case RelationKindToOne:
		return "to-one"
	case RelationKindToOneInverse:
		return "to-one-inverse"
	case RelationKindOneToMany:
		return "one-to-many"
	case RelationKindManyToMany:
		return "many-to-many"
	}
	return "none"
}

// RelationInfo describes how a relation field joins its owner to its target
type RelationInfo struct {
	Field    *FieldDescriptor
	Owner    *EntityDescriptor
	Target   *EntityDescriptor
	Opposite *FieldDescriptor
	Kind     RelationKind

	// Set for RelationKindManyToMany. OwnerColumn references the owner's key,
	// TargetColumn the target's key.
	JoinTable    string
	OwnerColumn  string
	TargetColumn string
}

// =====================================
// Schema Registry
// =====================================

// SchemaRegistry is the immutable entity lookup table built once at startup
type SchemaRegistry struct {
	entities map[string]*EntityDescriptor
	indexes  map[string]FieldIndex
	order    []string
}

// NewSchemaRegistry validates the descriptors and freezes them into a registry
func NewSchemaRegistry(entities []EntityDescriptor) (*SchemaRegistry, error) {
	r := &SchemaRegistry{
		entities: make(map[string]*EntityDescriptor, len(entities)),
		indexes:  make(map[string]FieldIndex, len(entities)),
	}

	for i := range entities {
		e := cloneEntity(entities[i])
		if e.Name == "" {
			return nil, NewError(ErrorTypeValidation, "entity without a name")
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, NewError(ErrorTypeValidation, fmt.Sprintf("entity %q declared twice", e.Name))
		}
		if len(e.PrimaryKey) == 0 {
			for _, f := range e.Fields {
				if f.IsID {
					e.PrimaryKey = append(e.PrimaryKey, f.Name)
				}
			}
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
	}

	for _, name := range r.order {
		e := r.entities[name]
		idx := make(FieldIndex, len(e.Fields))
		for i := range e.Fields {
			f := &e.Fields[i]
			if _, dup := idx[f.Name]; dup {
				return nil, NewError(ErrorTypeValidation, fmt.Sprintf("field %s.%s declared twice", e.Name, f.Name))
			}
			if f.IsRelation != (f.Type == FieldTypeRelation) {
				return nil, NewError(ErrorTypeValidation,
					fmt.Sprintf("field %s.%s: relation flag and type disagree", e.Name, f.Name))
			}
			if f.IsRelation {
				if _, ok := r.entities[f.RelationTarget]; !ok {
					return nil, NewError(ErrorTypeValidation,
						fmt.Sprintf("field %s.%s targets unknown entity %q", e.Name, f.Name, f.RelationTarget))
				}
				if f.RelationName == "" {
					f.RelationName = defaultRelationName(e.Name, f.RelationTarget)
				}
			} else if !f.Type.IsScalar() {
				return nil, NewError(ErrorTypeValidation,
					fmt.Sprintf("field %s.%s has unknown type %q", e.Name, f.Name, f.Type))
			}
			idx[f.Name] = f
		}
		r.indexes[name] = idx
	}

	return r, nil
}

// Entity returns the descriptor for name
func (r *SchemaRegistry) Entity(name string) (*EntityDescriptor, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, ErrUnknownEntity(name)
	}
	return e, nil
}

// FieldIndex returns the field lookup table for name
func (r *SchemaRegistry) FieldIndex(name string) (FieldIndex, error) {
	idx, ok := r.indexes[name]
	if !ok {
		return nil, ErrUnknownEntity(name)
	}
	return idx, nil
}

// Field resolves a single field of an entity
func (r *SchemaRegistry) Field(entity, field string) (*FieldDescriptor, error) {
	idx, err := r.FieldIndex(entity)
	if err != nil {
		return nil, err
	}
	f, ok := idx[field]
	if !ok {
		return nil, ErrInvalidFieldReference(entity, field)
	}
	return f, nil
}

// Entities returns all entity names in declaration order
func (r *SchemaRegistry) Entities() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Relation classifies a relation field and locates its opposite side
func (r *SchemaRegistry) Relation(entity, field string) (*RelationInfo, error) {
	owner, err := r.Entity(entity)
	if err != nil {
		return nil, err
	}
	f, err := r.Field(entity, field)
	if err != nil {
		return nil, err
	}
	if !f.IsRelation {
		return &RelationInfo{Field: f, Owner: owner, Kind: RelationKindNone}, nil
	}

	target := r.entities[f.RelationTarget]
	info := &RelationInfo{Field: f, Owner: owner, Target: target}
	for i := range target.Fields {
		o := &target.Fields[i]
		if o.IsRelation && o.RelationTarget == owner.Name && o.RelationName == f.RelationName && o != f {
			info.Opposite = o
			break
		}
	}

	switch {
	case len(f.RelationFromFields) > 0:
		info.Kind = RelationKindToOne
	case info.Opposite != nil && len(info.Opposite.RelationFromFields) > 0:
		if f.IsList {
			info.Kind = RelationKindOneToMany
		} else {
			info.Kind = RelationKindToOneInverse
		}
	case f.IsList:
		info.Kind = RelationKindManyToMany
		info.JoinTable = "_" + f.RelationName
		// Implicit join tables name their columns A and B by model name order.
		if owner.Name <= target.Name {
			info.OwnerColumn, info.TargetColumn = "A", "B"
		} else {
			info.OwnerColumn, info.TargetColumn = "B", "A"
		}
	default:
		return nil, NewError(ErrorTypeValidation,
			fmt.Sprintf("relation %s.%s has no foreign key on either side", entity, field))
	}
	return info, nil
}

func defaultRelationName(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return strings.Join(names, "To")
}

func cloneEntity(e EntityDescriptor) *EntityDescriptor {
	out := e
	out.Fields = make([]FieldDescriptor, len(e.Fields))
	for i, f := range e.Fields {
		f.RelationFromFields = append([]string(nil), f.RelationFromFields...)
		f.RelationToFields = append([]string(nil), f.RelationToFields...)
		out.Fields[i] = f
	}
	out.PrimaryKey = append([]string(nil), e.PrimaryKey...)
	out.DisplayFields = append([]string(nil), e.DisplayFields...)
	out.UniqueFields = make([][]string, len(e.UniqueFields))
	for i, u := range e.UniqueFields {
		out.UniqueFields[i] = append([]string(nil), u...)
	}
	return &out
}
