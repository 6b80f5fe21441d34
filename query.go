package gcrud

// =====================================
// Search Options
// =====================================

// SearchOption modifies a search request under construction
type SearchOption interface {
	Apply(req *SearchRequest)
}

// FilterOption adds a filter entry to the last group, starting one if needed
type FilterOption struct {
	Field string
	Spec  FilterSpec
}

func (o FilterOption) Apply(req *SearchRequest) {
	if len(req.Filters) == 0 {
		req.Filters = append(req.Filters, FilterGroup{})
	}
	req.Filters[len(req.Filters)-1][o.Field] = o.Spec
}

// GroupOption appends a complete group
type GroupOption struct {
	Group FilterGroup
}

func (o GroupOption) Apply(req *SearchRequest) {
	g := make(FilterGroup, len(o.Group))
	for k, v := range o.Group {
		g[k] = v
	}
	req.Filters = append(req.Filters, g)
}

// OrOption starts a new group; following filters are OR-ed with the previous ones
type OrOption struct{}

func (OrOption) Apply(req *SearchRequest) {
	req.Filters = append(req.Filters, FilterGroup{})
}

// OrderOption appends a sort field
type OrderOption struct {
	Field     string
	Direction SortDirection
}

func (o OrderOption) Apply(req *SearchRequest) {
	req.OrderBy = append(req.OrderBy, SortField{Field: o.Field, Direction: o.Direction})
}

// LimitOption sets the page size
type LimitOption struct {
	Count int
}

func (o LimitOption) Apply(req *SearchRequest) {
	req.Limit = o.Count
}

// OffsetOption sets the number of matches to skip
type OffsetOption struct {
	Count int
}

func (o OffsetOption) Apply(req *SearchRequest) {
	req.Offset = o.Count
}

// FieldsOption adds field paths to the projection
type FieldsOption struct {
	Fields []string
}

func (o FieldsOption) Apply(req *SearchRequest) {
	req.Fields = append(req.Fields, o.Fields...)
}

// IncludeOption loads whole relations alongside the default projection
type IncludeOption struct {
	Relations []string
}

func (o IncludeOption) Apply(req *SearchRequest) {
	req.Include = append(req.Include, o.Relations...)
}

// =====================================
// Option Constructors
// =====================================

// Where filters field with mode and value.
// A group holds one entry per field name; use WhereNested for a second one.
func Where(field string, mode FilterMode, value any) SearchOption {
	return FilterOption{Field: field, Spec: FilterSpec{Mode: mode, Value: value}}
}

// WhereRelation filters a relation field by related ids
func WhereRelation(field string, mode FilterMode, ids ...any) SearchOption {
	return FilterOption{Field: field, Spec: FilterSpec{Mode: mode, Value: ids, IsRelation: true}}
}

// WhereNested filters at a dotted predicate path below field,
// for example WhereNested("roles", "roles.some.name", ModeEqual, "admin")
func WhereNested(field, path string, mode FilterMode, value any) SearchOption {
	return FilterOption{Field: field, Spec: FilterSpec{Mode: mode, Value: value, NestedFieldPath: path}}
}

// Group appends a ready-made filter group
func Group(g FilterGroup) SearchOption {
	return GroupOption{Group: g}
}

// Or starts a new filter group
func Or() SearchOption {
	return OrOption{}
}

// Order adds a sort field
func Order(field string, direction SortDirection) SearchOption {
	return OrderOption{Field: field, Direction: direction}
}

// Limit sets the page size
func Limit(count int) SearchOption {
	return LimitOption{Count: count}
}

// Offset sets the number of matches to skip
func Offset(count int) SearchOption {
	return OffsetOption{Count: count}
}

// Fields selects field paths
func Fields(fields ...string) SearchOption {
	return FieldsOption{Fields: fields}
}

// Include loads relations in full
func Include(relations ...string) SearchOption {
	return IncludeOption{Relations: relations}
}

// NewSearch builds a request from options
func NewSearch(opts ...SearchOption) SearchRequest {
	var req SearchRequest
	for _, opt := range opts {
		opt.Apply(&req)
	}
	return req
}
