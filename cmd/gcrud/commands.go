package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/lemmego/gcrud"
	"github.com/lemmego/gcrud/gcrudmem"
)

// entityOutput is the JSON shape printed by the schema command
type entityOutput struct {
	Name          string        `json:"name"`
	Table         string        `json:"table"`
	PrimaryKey    []string      `json:"primaryKey"`
	DisplayFields []string      `json:"displayFields,omitempty"`
	Fields        []fieldOutput `json:"fields"`
}

type fieldOutput struct {
	Name     string          `json:"name"`
	Column   string          `json:"column"`
	Type     gcrud.FieldType `json:"type"`
	Required bool            `json:"required"`
	List     bool            `json:"list,omitempty"`
	Unique   bool            `json:"unique,omitempty"`
	Relation *relationOutput `json:"relation,omitempty"`
}

type relationOutput struct {
	Target    string `json:"target"`
	Kind      string `json:"kind"`
	Opposite  string `json:"opposite,omitempty"`
	JoinTable string `json:"joinTable,omitempty"`
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [entity...]",
		Short: "Print the entity descriptors of the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.schema(cmd.Context())
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = registry.Entities()
				sort.Strings(names)
			}

			out := make([]entityOutput, 0, len(names))
			for _, name := range names {
				e, err := describe(registry, name)
				if err != nil {
					return err
				}
				out = append(out, e)
			}
			return writeJSON(cmd, out)
		},
	}
}

func describe(registry *gcrud.SchemaRegistry, name string) (entityOutput, error) {
	entity, err := registry.Entity(name)
	if err != nil {
		return entityOutput{}, err
	}
	out := entityOutput{
		Name:          entity.Name,
		Table:         entity.Table(),
		PrimaryKey:    entity.PrimaryKey,
		DisplayFields: entity.DisplayFields,
	}
	if len(out.PrimaryKey) == 0 {
		out.PrimaryKey = []string{entity.PrimaryKeyField()}
	}
	for _, f := range entity.Fields {
		fo := fieldOutput{
			Name:     f.Name,
			Column:   f.Column(),
			Type:     f.Type,
			Required: f.IsRequired,
			List:     f.IsList,
			Unique:   f.IsUnique,
		}
		if f.IsRelation {
			info, err := registry.Relation(entity.Name, f.Name)
			if err != nil {
				return entityOutput{}, err
			}
			fo.Relation = &relationOutput{
				Target:    info.Target.Name,
				Kind:      info.Kind.String(),
				JoinTable: info.JoinTable,
			}
			if info.Opposite != nil {
				fo.Relation.Opposite = info.Opposite.Name
			}
		}
		out.Fields = append(out.Fields, fo)
	}
	return out, nil
}

// compiledQuery is the JSON shape printed by the compile command
type compiledQuery struct {
	Where   gcrud.Predicate `json:"where"`
	Select  gcrud.Selection `json:"select"`
	Include []string        `json:"include,omitempty"`
	OrderBy gcrud.OrderBy   `json:"orderBy"`
	Skip    int             `json:"skip"`
	Take    int             `json:"take"`
}

func newCompileCommand(opts *rootOptions) *cobra.Command {
	var entity, request string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Print the store query a search request compiles to",
		Long: `Compile a search request into the where, select and paging arguments
handed to the store. Nothing is read from the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.schema(cmd.Context())
			if err != nil {
				return err
			}
			var req gcrud.SearchRequest
			if err := readJSON(cmd, request, &req); err != nil {
				return err
			}

			store, err := gcrudmem.New(registry).Store(entity)
			if err != nil {
				return err
			}
			svc, err := gcrud.NewService(registry, entity, store,
				gcrud.WithLogger(opts.logger),
				gcrud.WithDefaults(gcrud.SearchDefaultsFromConfig(opts.config.Search)))
			if err != nil {
				return err
			}
			query, err := svc.Compile(req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, compiledQuery{
				Where:   query.Where,
				Select:  query.Select,
				Include: query.Include,
				OrderBy: query.OrderBy,
				Skip:    query.Skip,
				Take:    query.Take,
			})
		},
	}
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "entity to search")
	cmd.Flags().StringVarP(&request, "request", "r", "-", "search request JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var entity, request string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a search request and print {total, items}",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req gcrud.SearchRequest
			if err := readJSON(cmd, request, &req); err != nil {
				return err
			}
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			svc, err := s.service(entity)
			if err != nil {
				return err
			}
			result, err := svc.GetAll(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "entity to search")
	cmd.Flags().StringVarP(&request, "request", "r", "-", "search request JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

// recordCommand runs fn against the service for --entity
func recordCommand(opts *rootOptions, use, short string, withID, withData bool,
	fn func(cmd *cobra.Command, svc *gcrud.Service, id any, data gcrud.Record) (gcrud.Record, error)) *cobra.Command {
	var entity, rawID, dataPath string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data gcrud.Record
			if withData {
				if err := readJSON(cmd, dataPath, &data); err != nil {
					return err
				}
			}
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			svc, err := s.service(entity)
			if err != nil {
				return err
			}
			var id any
			if withID {
				if id, err = parseID(svc.Entity(), rawID); err != nil {
					return err
				}
			}
			record, err := fn(cmd, svc, id, data)
			if err != nil {
				return err
			}
			return writeJSON(cmd, record)
		},
	}
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "entity")
	_ = cmd.MarkFlagRequired("entity")
	if withID {
		cmd.Flags().StringVar(&rawID, "id", "", "primary key of the record")
		_ = cmd.MarkFlagRequired("id")
	}
	if withData {
		cmd.Flags().StringVarP(&dataPath, "data", "d", "-", "record JSON file, - for stdin")
	}
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "get", "Print one record by primary key", true, false,
		func(cmd *cobra.Command, svc *gcrud.Service, id any, _ gcrud.Record) (gcrud.Record, error) {
			return svc.GetOne(cmd.Context(), id)
		})
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "create", "Create a record and print it", false, true,
		func(cmd *cobra.Command, svc *gcrud.Service, _ any, data gcrud.Record) (gcrud.Record, error) {
			return svc.Create(cmd.Context(), data)
		})
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "update", "Update a record and print the result", true, true,
		func(cmd *cobra.Command, svc *gcrud.Service, id any, data gcrud.Record) (gcrud.Record, error) {
			return svc.Update(cmd.Context(), id, data)
		})
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "delete", "Delete a record and print its key", true, false,
		func(cmd *cobra.Command, svc *gcrud.Service, id any, _ gcrud.Record) (gcrud.Record, error) {
			return svc.DeleteItem(cmd.Context(), id)
		})
}
