package gcrudmem

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/lemmego/gcrud"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// normalize converts a written value to the representation kept in memory
func normalize(f *gcrud.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case gcrud.FieldTypeDateTime:
		if t, ok := asTime(v); ok {
			return t, nil
		}
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: %v is not a date", f.Name, v))
	case gcrud.FieldTypeInt, gcrud.FieldTypeBigInt:
		if n, ok := asFloat(v); ok && n == float64(int64(n)) {
			return int64(n), nil
		}
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: %v is not an integer", f.Name, v))
	case gcrud.FieldTypeFloat, gcrud.FieldTypeDecimal:
		if n, ok := asFloat(v); ok {
			return n, nil
		}
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: %v is not a number", f.Name, v))
	}
	return v, nil
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case *big.Float:
		f, _ := n.Float64()
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// compare orders a stored value against an operand. ok is false when the
// two cannot be ordered.
func compare(stored, operand any) (int, bool) {
	if stored == nil || operand == nil {
		return 0, false
	}
	if a, ok := asFloat(stored); ok {
		b, ok := asFloat(operand)
		if !ok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	}
	if a, ok := stored.(time.Time); ok {
		b, ok := asTime(operand)
		if !ok {
			return 0, false
		}
		return a.Compare(b), true
	}
	if a, ok := stored.(string); ok {
		b, ok := operand.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(a, b), true
	}
	if a, ok := stored.(bool); ok {
		b, ok := operand.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case a == b:
			return 0, true
		case !a:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func equal(stored, operand any) bool {
	if stored == nil || operand == nil {
		return stored == nil && operand == nil
	}
	if c, ok := compare(stored, operand); ok {
		return c == 0
	}
	return reflect.DeepEqual(stored, operand)
}

// sortLess orders rows with nulls first, like an ascending SQL sort
func sortLess(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
