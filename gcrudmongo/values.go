package gcrudmongo

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lemmego/gcrud"
)

const idKey = "_id"

// key returns the document key of a field. The primary key lives in _id.
func key(entity *gcrud.EntityDescriptor, f *gcrud.FieldDescriptor) string {
	if f.Name == entity.PrimaryKeyField() {
		return idKey
	}
	return f.Column()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// encode converts a value for f into the form stored and compared in documents
func encode(f *gcrud.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case gcrud.FieldTypeInt, gcrud.FieldTypeBigInt:
		if n, ok := asInt(v); ok {
			return n, nil
		}
		return v, nil
	case gcrud.FieldTypeDateTime:
	default:
		return v, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, fmt.Sprintf("field %s: %q is not a date", f.Name, t))
	}
	return v, nil
}

func encodeList(f *gcrud.FieldDescriptor, list []any) ([]any, error) {
	out := make([]any, len(list))
	for i, v := range list {
		e, err := encode(f, v)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// decode converts a document value into what services return:
// int64 for Int, float64 for Float and Decimal, UTC time.Time and plain maps and slices
func decode(f *gcrud.FieldDescriptor, v any) any {
	if v == nil {
		return nil
	}
	switch f.Type {
	case gcrud.FieldTypeInt, gcrud.FieldTypeBigInt:
		if n, ok := asInt(v); ok {
			return n
		}
	case gcrud.FieldTypeFloat, gcrud.FieldTypeDecimal:
		switch n := v.(type) {
		case primitive.Decimal128:
			if parsed, err := strconv.ParseFloat(n.String(), 64); err == nil {
				return parsed
			}
		case float64:
			return n
		}
		if n, ok := asInt(v); ok {
			return float64(n)
		}
	case gcrud.FieldTypeDateTime:
		switch t := v.(type) {
		case primitive.DateTime:
			return t.Time().UTC()
		case time.Time:
			return t.UTC()
		}
	case gcrud.FieldTypeBytes:
		if b, ok := v.(primitive.Binary); ok {
			return b.Data
		}
	case gcrud.FieldTypeString:
		if oid, ok := v.(primitive.ObjectID); ok {
			return oid.Hex()
		}
	}
	return plain(v)
}

// plain turns bson container types into maps and slices
func plain(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = plain(e)
		}
		return s
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}

func asInt(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float64:
		f := rv.Float()
		return int64(f), f == float64(int64(f))
	}
	return 0, false
}

// keyOf renders a key so that int32, int64 and int of the same value compare equal
func keyOf(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	if n, ok := asInt(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if k := keyOf(id); !seen[k] {
			seen[k] = true
			out = append(out, id)
		}
	}
	return out
}
