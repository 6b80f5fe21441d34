package gcrudsql

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/lemmego/gcrud"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// encode converts a value bound for a column of f into a driver argument
func encode(f *gcrud.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case gcrud.FieldTypeDateTime:
		if s, ok := v.(string); ok {
			t, ok := parseTime(s)
			if !ok {
				return nil, gcrud.NewError(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: %q is not a date", f.Name, s))
			}
			return t, nil
		}
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case gcrud.FieldTypeJSON:
		switch v.(type) {
		case string, []byte:
			return v, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: cannot encode json", f.Name), err)
		}
		return string(b), nil
	case gcrud.FieldTypeDecimal:
		if n, ok := v.(*big.Float); ok {
			return n.Text('f', -1), nil
		}
	}
	return v, nil
}

// decode converts a scanned column value into the representation services
// return: int64 for Int, float64 for Float and Decimal, bool, UTC time.Time
// and decoded JSON.
func decode(f *gcrud.FieldDescriptor, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok && f.Type != gcrud.FieldTypeBytes {
		v = string(b)
	}
	switch f.Type {
	case gcrud.FieldTypeInt, gcrud.FieldTypeBigInt:
		if n, ok := asInt(v); ok {
			return n
		}
	case gcrud.FieldTypeFloat, gcrud.FieldTypeDecimal:
		if n, ok := asFloat(v); ok {
			return n
		}
	case gcrud.FieldTypeBoolean:
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
		if n, ok := asInt(v); ok {
			return n != 0
		}
	case gcrud.FieldTypeDateTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC()
		case string:
			if parsed, ok := parseTime(t); ok {
				return parsed
			}
		}
	case gcrud.FieldTypeJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case gcrud.FieldTypeString:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	}
	return v
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return int64(f), f == float64(int64(f))
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
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

// keyOf renders a key value so that the same key read from different
// columns and drivers compares equal
func keyOf(v any) string {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if n, ok := asInt(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}
