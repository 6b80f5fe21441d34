package gcrud

import "context"

// =====================================
// Search Builder
// =====================================

// SearchBuilder provides a fluent interface for building search requests.
// Filters added between calls to Or form one AND-ed group.
type SearchBuilder struct {
	opts []SearchOption
}

// NewSearchBuilder creates an empty builder.
// Example: sb := NewSearchBuilder().Where("status", ModeEqual, "OPEN").Limit(5)
func NewSearchBuilder() *SearchBuilder {
	return &SearchBuilder{opts: make([]SearchOption, 0)}
}

// Where adds a filter to the current group.
// Example: sb.Where("priority", ModeGreater, 3)
func (sb *SearchBuilder) Where(field string, mode FilterMode, value any) *SearchBuilder {
	sb.opts = append(sb.opts, Where(field, mode, value))
	return sb
}

// WhereRelation adds a relation id filter to the current group.
// Example: sb.WhereRelation("roles", ModeEqual, 1, 2)
func (sb *SearchBuilder) WhereRelation(field string, mode FilterMode, ids ...any) *SearchBuilder {
	sb.opts = append(sb.opts, WhereRelation(field, mode, ids...))
	return sb
}

// WhereNested adds a filter at a dotted predicate path to the current group.
func (sb *SearchBuilder) WhereNested(field, path string, mode FilterMode, value any) *SearchBuilder {
	sb.opts = append(sb.opts, WhereNested(field, path, mode, value))
	return sb
}

// Or closes the current group and starts a new one.
// Example: sb.Where("status", ModeEqual, "OPEN").Or().Where("priority", ModeGreater, 8)
func (sb *SearchBuilder) Or() *SearchBuilder {
	sb.opts = append(sb.opts, Or())
	return sb
}

// OrderBy adds a sort field.
// Example: sb.OrderBy("priority", SortDesc).OrderBy("id", SortAsc)
func (sb *SearchBuilder) OrderBy(field string, direction SortDirection) *SearchBuilder {
	sb.opts = append(sb.opts, Order(field, direction))
	return sb
}

// Limit sets the page size
func (sb *SearchBuilder) Limit(count int) *SearchBuilder {
	sb.opts = append(sb.opts, Limit(count))
	return sb
}

// Offset sets the number of matches to skip
func (sb *SearchBuilder) Offset(count int) *SearchBuilder {
	sb.opts = append(sb.opts, Offset(count))
	return sb
}

// Select adds field paths to the projection.
// Example: sb.Select("title", "assignee.email")
func (sb *SearchBuilder) Select(fields ...string) *SearchBuilder {
	sb.opts = append(sb.opts, Fields(fields...))
	return sb
}

// Include loads relations in full
func (sb *SearchBuilder) Include(relations ...string) *SearchBuilder {
	sb.opts = append(sb.opts, Include(relations...))
	return sb
}

// Build returns the request. Empty groups left by a trailing Or are dropped.
func (sb *SearchBuilder) Build() SearchRequest {
	req := NewSearch(sb.opts...)
	groups := req.Filters[:0]
	for _, g := range req.Filters {
		if len(g) > 0 {
			groups = append(groups, g)
		}
	}
	req.Filters = groups
	if len(req.Filters) == 0 {
		req.Filters = nil
	}
	return req
}

// Execute runs the search against svc
func (sb *SearchBuilder) Execute(ctx context.Context, svc *Service) (*SearchResult, error) {
	return svc.GetAll(ctx, sb.Build())
}

// Count returns the number of matches without fetching a page
func (sb *SearchBuilder) Count(ctx context.Context, svc *Service) (int64, error) {
	return svc.Count(ctx, sb.Build().Filters)
}
