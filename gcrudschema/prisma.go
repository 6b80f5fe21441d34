// Package gcrudschema loads gcrud entity descriptors from schema files.
// Prisma schemas are read directly; YAML schemas follow the layout of
// YAMLSchema.
package gcrudschema

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lemmego/gcrud"
)

// PrismaSource reads the model blocks of a Prisma schema file
type PrismaSource struct {
	Path string
}

func (s PrismaSource) Name() string { return s.Path }

// Load reads and parses the file
func (s PrismaSource) Load(ctx context.Context) ([]gcrud.EntityDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, gcrud.ErrSchemaNotFound(s.Path, err)
	}
	return ParsePrisma(string(data))
}

var prismaScalars = map[string]gcrud.FieldType{
	"Int":      gcrud.FieldTypeInt,
	"BigInt":   gcrud.FieldTypeBigInt,
	"Float":    gcrud.FieldTypeFloat,
	"Decimal":  gcrud.FieldTypeDecimal,
	"String":   gcrud.FieldTypeString,
	"Boolean":  gcrud.FieldTypeBoolean,
	"DateTime": gcrud.FieldTypeDateTime,
	"Bytes":    gcrud.FieldTypeBytes,
	"Json":     gcrud.FieldTypeJSON,
}

// ParsePrisma returns one descriptor per model in src, in declaration order.
// Enum fields become String fields. Datasource, generator, type and view
// blocks are skipped.
//
// A "/// @display a, b.c" line in a model's documentation sets its display fields.
func ParsePrisma(src string) ([]gcrud.EntityDescriptor, error) {
	lines, err := prismaLines(src)
	if err != nil {
		return nil, err
	}

	models := map[string]bool{}
	enums := map[string]bool{}
	for _, l := range lines {
		if kind, name, ok := blockHeader(l.text); ok {
			switch kind {
			case "model":
				models[name] = true
			case "enum":
				enums[name] = true
			}
		}
	}

	var out []gcrud.EntityDescriptor
	var docs []string
	var current *gcrud.EntityDescriptor
	skipping := false

	for _, l := range lines {
		if l.isDoc {
			docs = append(docs, l.doc)
			continue
		}
		if l.text == "" {
			continue
		}

		switch {
		case skipping:
			if l.text == "}" {
				skipping = false
			}

		case current == nil:
			kind, name, ok := blockHeader(l.text)
			if !ok {
				return nil, parseError(l.no, "unexpected %q", l.text)
			}
			if kind != "model" {
				skipping = true
				docs = nil
				continue
			}
			current = &gcrud.EntityDescriptor{Name: name}
			applyModelDocs(current, docs)

		case l.text == "}":
			finishModel(current)
			out = append(out, *current)
			current = nil

		case strings.HasPrefix(l.text, "@@"):
			if err := applyBlockAttributes(current, l.text); err != nil {
				return nil, parseError(l.no, "%v", err)
			}

		default:
			f, ok, err := parseField(l.text, models, enums)
			if err != nil {
				return nil, parseError(l.no, "%v", err)
			}
			if ok {
				f.Documentation = strings.Join(docs, "\n")
				current.Fields = append(current.Fields, f)
			}
		}
		docs = nil
	}
	if current != nil {
		return nil, parseError(len(lines), "model %s is not closed", current.Name)
	}
	return out, nil
}

type prismaLine struct {
	no    int
	text  string
	doc   string
	isDoc bool
}

// prismaLines strips // comments and keeps /// documentation apart
func prismaLines(src string) ([]prismaLine, error) {
	var lines []prismaLine
	scanner := bufio.NewScanner(strings.NewReader(src))
	no := 0
	for scanner.Scan() {
		no++
		raw := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(raw, "///") {
			lines = append(lines, prismaLine{no: no, doc: strings.TrimSpace(raw[3:]), isDoc: true})
			continue
		}
		text := strings.ReplaceAll(stripComment(raw), "\t", " ")
		lines = append(lines, prismaLine{no: no, text: strings.TrimSpace(text)})
	}
	if err := scanner.Err(); err != nil {
		return nil, gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "failed to read prisma schema", err)
	}
	return lines, nil
}

func stripComment(s string) string {
	inString := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && inString:
			i++
		case s[i] == '"':
			inString = !inString
		case !inString && strings.HasPrefix(s[i:], "//"):
			return s[:i]
		}
	}
	return s
}

// blockHeader matches "model Name {" and the other top level blocks
func blockHeader(text string) (kind, name string, ok bool) {
	parts := strings.Fields(text)
	if len(parts) != 3 || parts[2] != "{" {
		return "", "", false
	}
	switch parts[0] {
	case "model", "enum", "datasource", "generator", "type", "view":
		return parts[0], parts[1], true
	}
	return "", "", false
}

func applyModelDocs(e *gcrud.EntityDescriptor, docs []string) {
	var kept []string
	for _, d := range docs {
		if rest, ok := strings.CutPrefix(d, "@display"); ok {
			for _, name := range strings.Split(rest, ",") {
				if name = strings.TrimSpace(name); name != "" {
					e.DisplayFields = append(e.DisplayFields, name)
				}
			}
			continue
		}
		kept = append(kept, d)
	}
	e.Documentation = strings.Join(kept, "\n")
}

func finishModel(e *gcrud.EntityDescriptor) {
	if len(e.PrimaryKey) > 0 {
		return
	}
	for _, f := range e.Fields {
		if f.IsID {
			e.PrimaryKey = append(e.PrimaryKey, f.Name)
		}
	}
}

// parseField reads "name Type? @attr(...)". ok is false for fields with an
// Unsupported type, which no store can read.
func parseField(text string, models, enums map[string]bool) (gcrud.FieldDescriptor, bool, error) {
	name, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	typeToken, attrs, _ := strings.Cut(rest, " ")
	if name == "" || typeToken == "" {
		return gcrud.FieldDescriptor{}, false, fmt.Errorf("malformed field %q", text)
	}
	if strings.HasPrefix(typeToken, "Unsupported") {
		return gcrud.FieldDescriptor{}, false, nil
	}

	f := gcrud.FieldDescriptor{Name: name}
	switch {
	case strings.HasSuffix(typeToken, "[]"):
		f.IsList = true
		typeToken = strings.TrimSuffix(typeToken, "[]")
	case strings.HasSuffix(typeToken, "?"):
		typeToken = strings.TrimSuffix(typeToken, "?")
	default:
		f.IsRequired = true
	}
	if f.IsList {
		f.IsRequired = true
	}

	switch {
	case prismaScalars[typeToken] != "":
		f.Type = prismaScalars[typeToken]
	case enums[typeToken]:
		f.Type = gcrud.FieldTypeString
	case models[typeToken]:
		f.Type = gcrud.FieldTypeRelation
		f.IsRelation = true
		f.RelationTarget = typeToken
	default:
		return f, false, fmt.Errorf("field %s has unknown type %q", name, typeToken)
	}

	list, err := parseAttributes(attrs)
	if err != nil {
		return f, false, err
	}
	for _, a := range list {
		switch a.name {
		case "id":
			f.IsID = true
		case "unique":
			f.IsUnique = true
		case "default":
			f.HasDefault = true
		case "updatedAt":
			f.IsUpdatedAt = true
		case "map":
			if len(a.positional) > 0 {
				f.DBName = a.positional[0]
			}
		case "relation":
			if len(a.positional) > 0 {
				f.RelationName = a.positional[0]
			}
			if v, ok := a.named["name"]; ok {
				f.RelationName = unquote(v)
			}
			f.RelationFromFields = parseList(a.named["fields"])
			f.RelationToFields = parseList(a.named["references"])
		}
	}
	return f, true, nil
}

func applyBlockAttributes(e *gcrud.EntityDescriptor, text string) error {
	list, err := parseAttributes(strings.TrimPrefix(text, "@"))
	if err != nil {
		return err
	}
	for _, a := range list {
		var fields []string
		if len(a.rawPositional) > 0 {
			fields = parseList(a.rawPositional[0])
		}
		if v, ok := a.named["fields"]; ok {
			fields = parseList(v)
		}
		switch a.name {
		case "map":
			if len(a.positional) > 0 {
				e.DBName = a.positional[0]
			}
		case "id":
			e.PrimaryKey = fields
		case "unique":
			e.UniqueFields = append(e.UniqueFields, fields)
		}
	}
	return nil
}

type attribute struct {
	name string
	// positional holds unquoted string arguments, rawPositional every positional argument as written
	positional    []string
	rawPositional []string
	named         map[string]string
}

// parseAttributes reads a run of "@name" and "@name(args)" attributes
func parseAttributes(s string) ([]attribute, error) {
	var out []attribute
	i := 0
	for i < len(s) {
		switch {
		case s[i] == ' ' || s[i] == '\t':
			i++
			continue
		case s[i] != '@':
			return nil, fmt.Errorf("unexpected %q in attributes", s[i:])
		}
		i++
		start := i
		for i < len(s) && (isIdent(s[i]) || s[i] == '.') {
			i++
		}
		a := attribute{name: s[start:i], named: map[string]string{}}
		if i < len(s) && s[i] == '(' {
			end, err := closing(s, i)
			if err != nil {
				return nil, err
			}
			for _, arg := range splitTopLevel(s[i+1 : end]) {
				if k, v, ok := namedArg(arg); ok {
					a.named[k] = v
					continue
				}
				a.rawPositional = append(a.rawPositional, arg)
				if strings.HasPrefix(arg, `"`) {
					a.positional = append(a.positional, unquote(arg))
				}
			}
			i = end + 1
		}
		out = append(out, a)
	}
	return out, nil
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// closing returns the index of the parenthesis matching s[open]
func closing(s string, open int) (int, error) {
	depth := 0
	inString := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses in %q", s)
}

// splitTopLevel splits on commas outside brackets, parentheses and strings
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		out = append(out, last)
	}
	return out
}

// namedArg splits "key: value", leaving strings and calls alone
func namedArg(arg string) (key, value string, ok bool) {
	k, v, found := strings.Cut(arg, ":")
	if !found || strings.HasPrefix(arg, `"`) {
		return "", "", false
	}
	k = strings.TrimSpace(k)
	for i := 0; i < len(k); i++ {
		if !isIdent(k[i]) {
			return "", "", false
		}
	}
	return k, strings.TrimSpace(v), true
}

// parseList reads "[a, b]" into its names. Sort and length arguments such as
// "a(sort: Desc)" are dropped.
func parseList(v string) []string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return nil
	}
	var out []string
	for _, item := range splitTopLevel(v[1 : len(v)-1]) {
		if i := strings.IndexByte(item, '('); i >= 0 {
			item = item[:i]
		}
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func unquote(s string) string {
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return strings.Trim(s, `"`)
}

func parseError(line int, format string, args ...any) error {
	return gcrud.NewError(gcrud.ErrorTypeValidation,
		fmt.Sprintf("prisma schema line %d: %s", line, fmt.Sprintf(format, args...)))
}
