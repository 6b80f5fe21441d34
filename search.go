package gcrud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// =====================================
// Search Request
// =====================================

// FilterSpec is one mode-tagged filter entry
type FilterSpec struct {
	Mode            FilterMode `json:"mode" yaml:"mode"`
	Value           any        `json:"value" yaml:"value"`
	IsRelation      bool       `json:"isRelation,omitempty" yaml:"isRelation,omitempty"`
	NestedFieldPath string     `json:"nestedFieldPath,omitempty" yaml:"nestedFieldPath,omitempty"`
}

// FilterGroup maps field name to filter; all entries are AND-ed
type FilterGroup map[string]FilterSpec

// SortField is one ORDER BY entry
type SortField struct {
	Field     string
	Direction SortDirection
}

// OrderBy is an ordered list of sort fields. In JSON it is either an object
// ({"priority": "desc", "id": "asc"}, key order kept) or a list of
// single-key objects.
type OrderBy []SortField

// UnmarshalJSON implements json.Unmarshaler
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}

	if data[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		out := make(OrderBy, 0, len(entries))
		for _, raw := range entries {
			var one OrderBy
			if err := one.UnmarshalJSON(raw); err != nil {
				return err
			}
			out = append(out, one...)
		}
		*o = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("orderBy: expected object or array, got %v", tok)
	}
	out := OrderBy{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var dir string
		if err := dec.Decode(&dir); err != nil {
			return fmt.Errorf("orderBy %v: %w", keyTok, err)
		}
		direction, err := ParseSortDirection(dir)
		if err != nil {
			return err
		}
		out = append(out, SortField{Field: keyTok.(string), Direction: direction})
	}
	*o = out
	return nil
}

// MarshalJSON encodes the order as a list of single-key objects
func (o OrderBy) MarshalJSON() ([]byte, error) {
	entries := make([]map[string]SortDirection, len(o))
	for i, s := range o {
		entries[i] = map[string]SortDirection{s.Field: s.Direction}
	}
	return json.Marshal(entries)
}

// ParseSortDirection accepts asc/desc in any case
func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToLower(s) {
	case "asc":
		return SortAsc, nil
	case "desc":
		return SortDesc, nil
	}
	return "", NewError(ErrorTypeValidation, fmt.Sprintf("invalid sort direction %q", s))
}

// SearchRequest describes a paginated, filtered, sorted search
type SearchRequest struct {
	Filters []FilterGroup `json:"filters,omitempty" yaml:"filters,omitempty"`
	Offset  int           `json:"offset,omitempty" yaml:"offset,omitempty"`
	Limit   int           `json:"limit,omitempty" yaml:"limit,omitempty"`
	OrderBy OrderBy       `json:"orderBy,omitempty" yaml:"-"`
	Fields  []string      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Include []string      `json:"include,omitempty" yaml:"include,omitempty"`
}

// SearchResult is one page of a search plus the total match count
type SearchResult struct {
	Total int64    `json:"total"`
	Items []Record `json:"items"`
}

// SearchDefaults fill in what a request leaves unset
type SearchDefaults struct {
	Limit     int
	Direction SortDirection
	// OrderField overrides the entity primary key as the default sort field
	OrderField string
}

// DefaultSearchDefaults matches an empty search contract: limit 10, ascending by id
var DefaultSearchDefaults = SearchDefaults{Limit: 10, Direction: SortAsc}

// SearchDefaultsFromConfig converts the config section, falling back per field
func SearchDefaultsFromConfig(c SearchConfig) SearchDefaults {
	d := DefaultSearchDefaults
	if c.DefaultLimit > 0 {
		d.Limit = c.DefaultLimit
	}
	if c.DefaultOrder != "" {
		d.OrderField = c.DefaultOrder
	}
	if dir, err := ParseSortDirection(string(c.DefaultDirection)); err == nil {
		d.Direction = dir
	}
	return d
}
