package gcrudschema

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lemmego/gcrud"
)

// YAMLSchema is the document read by YAMLSource:
//
//	entities:
//	  - name: User
//	    table: users
//	    display: [email]
//	    fields:
//	      - {name: id, type: Int, id: true, default: true}
//	      - {name: email, type: String, unique: true}
//	      - {name: roles, type: Role, list: true}
//
// A field whose type names another entity is a relation.
type YAMLSchema struct {
	Entities []YAMLEntity `yaml:"entities"`
}

type YAMLEntity struct {
	Name       string      `yaml:"name"`
	Table      string      `yaml:"table"`
	Doc        string      `yaml:"doc"`
	PrimaryKey []string    `yaml:"primaryKey"`
	Unique     [][]string  `yaml:"unique"`
	Display    []string    `yaml:"display"`
	Fields     []YAMLField `yaml:"fields"`
}

type YAMLField struct {
	Name      string        `yaml:"name"`
	Column    string        `yaml:"column"`
	Type      string        `yaml:"type"`
	Doc       string        `yaml:"doc"`
	Optional  bool          `yaml:"optional"`
	List      bool          `yaml:"list"`
	ID        bool          `yaml:"id"`
	Unique    bool          `yaml:"unique"`
	Default   bool          `yaml:"default"`
	UpdatedAt bool          `yaml:"updatedAt"`
	Relation  *YAMLRelation `yaml:"relation"`
}

type YAMLRelation struct {
	Name       string   `yaml:"name"`
	Fields     []string `yaml:"fields"`
	References []string `yaml:"references"`
}

// YAMLSource reads a YAMLSchema file
type YAMLSource struct {
	Path string
}

func (s YAMLSource) Name() string { return s.Path }

func (s YAMLSource) Load(ctx context.Context) ([]gcrud.EntityDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, gcrud.ErrSchemaNotFound(s.Path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAMLSchema document into descriptors
func ParseYAML(data []byte) ([]gcrud.EntityDescriptor, error) {
	var doc YAMLSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "invalid yaml schema", err)
	}

	names := make(map[string]bool, len(doc.Entities))
	for _, e := range doc.Entities {
		names[e.Name] = true
	}

	out := make([]gcrud.EntityDescriptor, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		if e.Name == "" {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "yaml schema entity without a name")
		}
		desc := gcrud.EntityDescriptor{
			Name:          e.Name,
			DBName:        e.Table,
			PrimaryKey:    e.PrimaryKey,
			UniqueFields:  e.Unique,
			DisplayFields: e.Display,
			Documentation: e.Doc,
		}
		for _, f := range e.Fields {
			fd, err := yamlField(e.Name, f, names)
			if err != nil {
				return nil, err
			}
			desc.Fields = append(desc.Fields, fd)
		}
		if len(desc.PrimaryKey) == 0 {
			for _, f := range desc.Fields {
				if f.IsID {
					desc.PrimaryKey = append(desc.PrimaryKey, f.Name)
				}
			}
		}
		out = append(out, desc)
	}
	return out, nil
}

func yamlField(entity string, f YAMLField, entities map[string]bool) (gcrud.FieldDescriptor, error) {
	fd := gcrud.FieldDescriptor{
		Name:          f.Name,
		DBName:        f.Column,
		IsRequired:    !f.Optional || f.List,
		IsList:        f.List,
		IsID:          f.ID,
		IsUnique:      f.Unique,
		HasDefault:    f.Default,
		IsUpdatedAt:   f.UpdatedAt,
		Documentation: f.Doc,
	}
	switch t := gcrud.FieldType(f.Type); {
	case t.IsScalar():
		fd.Type = t
	case entities[f.Type]:
		fd.Type = gcrud.FieldTypeRelation
		fd.IsRelation = true
		fd.RelationTarget = f.Type
	default:
		return fd, gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("field %s.%s has unknown type %q", entity, f.Name, f.Type))
	}
	if f.Relation != nil {
		fd.RelationName = f.Relation.Name
		fd.RelationFromFields = f.Relation.Fields
		fd.RelationToFields = f.Relation.References
	}
	return fd, nil
}
