package gcrudsql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmego/gcrud"
)

func testRegistry(t *testing.T) *gcrud.SchemaRegistry {
	t.Helper()
	r, err := gcrud.NewSchemaRegistry([]gcrud.EntityDescriptor{
		{
			Name:   "User",
			DBName: "users",
			Fields: []gcrud.FieldDescriptor{
				{Name: "id", Type: gcrud.FieldTypeInt, IsRequired: true, IsID: true, HasDefault: true},
				{Name: "email", Type: gcrud.FieldTypeString, IsRequired: true, IsUnique: true},
				{Name: "name", Type: gcrud.FieldTypeString},
				{Name: "roles", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "Role", IsList: true, IsRequired: true},
				{Name: "tickets", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "Ticket", IsList: true, IsRequired: true},
			},
		},
		{
			Name: "Role",
			Fields: []gcrud.FieldDescriptor{
				{Name: "id", Type: gcrud.FieldTypeInt, IsRequired: true, IsID: true, HasDefault: true},
				{Name: "name", Type: gcrud.FieldTypeString, IsRequired: true},
				{Name: "users", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "User", IsList: true, IsRequired: true},
			},
		},
		{
			Name: "Ticket",
			Fields: []gcrud.FieldDescriptor{
				{Name: "id", Type: gcrud.FieldTypeInt, IsRequired: true, IsID: true, HasDefault: true},
				{Name: "title", Type: gcrud.FieldTypeString, IsRequired: true},
				{Name: "status", Type: gcrud.FieldTypeString, IsRequired: true},
				{Name: "priority", Type: gcrud.FieldTypeInt, IsRequired: true},
				{Name: "dueAt", Type: gcrud.FieldTypeDateTime},
				{Name: "assigneeId", Type: gcrud.FieldTypeInt},
				{
					Name: "assignee", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "User",
					RelationFromFields: []string{"assigneeId"}, RelationToFields: []string{"id"},
				},
			},
		},
	})
	require.NoError(t, err)
	return r
}

func render(t *testing.T, d Dialect, entity string, where gcrud.Predicate) (string, []any, error) {
	t.Helper()
	reg := testRegistry(t)
	desc, err := reg.Entity(entity)
	require.NoError(t, err)
	b := newBuilder(reg, d)
	sql, err := b.where(desc, b.alias(), where)
	return sql, b.args, err
}

func TestRenderScalarFilters(t *testing.T) {
	tests := []struct {
		name  string
		where gcrud.Predicate
		sql   string
		args  []any
	}{
		{
			name:  "empty predicate",
			where: gcrud.Predicate{},
			sql:   "1=1",
		},
		{
			name:  "insensitive contains",
			where: gcrud.Predicate{"status": map[string]any{"contains": "op", "mode": "insensitive"}},
			sql:   `LOWER(t1."status") LIKE LOWER(?) ESCAPE '!'`,
			args:  []any{"%op%"},
		},
		{
			name:  "like wildcards are escaped",
			where: gcrud.Predicate{"title": map[string]any{"contains": "50%_off!"}},
			sql:   `t1."title" LIKE ? ESCAPE '!'`,
			args:  []any{"%50!%!_off!!%"},
		},
		{
			name:  "fields are joined in key order",
			where: gcrud.Predicate{"priority": map[string]any{"gte": 1, "lte": 3}, "dueAt": nil},
			sql:   `(t1."dueAt" IS NULL AND (t1."priority" >= ? AND t1."priority" <= ?))`,
			args:  []any{1, 3},
		},
		{
			name: "OR list",
			where: gcrud.Predicate{"OR": []any{
				gcrud.Predicate{"status": "OPEN"},
				gcrud.Predicate{"priority": map[string]any{"gt": 2}},
			}},
			sql:  `(t1."status" = ? OR t1."priority" > ?)`,
			args: []any{"OPEN", 2},
		},
		{
			name:  "empty OR matches nothing",
			where: gcrud.Predicate{"OR": []any{}},
			sql:   "1=0",
		},
		{
			name:  "in and negated in",
			where: gcrud.Predicate{"status": map[string]any{"not": map[string]any{"in": []any{"A", "B"}}}},
			sql:   `(t1."status" IS NOT NULL AND NOT (t1."status" IN (?, ?)))`,
			args:  []any{"A", "B"},
		},
		{
			name:  "empty in matches nothing",
			where: gcrud.Predicate{"status": map[string]any{"in": []any{}}},
			sql:   "1=0",
		},
		{
			name:  "not null",
			where: gcrud.Predicate{"dueAt": map[string]any{"not": nil}},
			sql:   `t1."dueAt" IS NOT NULL`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := render(t, SQLite, "Ticket", tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestRenderBindsDates(t *testing.T) {
	_, args, err := render(t, Postgres, "Ticket", gcrud.Predicate{"dueAt": map[string]any{"gte": "2024-03-05"}})
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), args[0])

	_, _, err = render(t, Postgres, "Ticket", gcrud.Predicate{"dueAt": map[string]any{"gte": "soon"}})
	assert.True(t, gcrud.IsValidation(err))
}

func TestRenderRelationFilters(t *testing.T) {
	t.Run("to-one", func(t *testing.T) {
		sql, args, err := render(t, SQLite, "Ticket", gcrud.Predicate{
			"assignee": map[string]any{"is": map[string]any{"id": map[string]any{"in": []any{1, 2}}}},
		})
		require.NoError(t, err)
		assert.Equal(t, `t1."assigneeId" IN (SELECT t2."id" FROM "users" t2 WHERE t2."id" IS NOT NULL AND t2."id" IN (?, ?))`, sql)
		assert.Equal(t, []any{1, 2}, args)
	})

	t.Run("to-one plain where", func(t *testing.T) {
		sql, _, err := render(t, SQLite, "Ticket", gcrud.Predicate{
			"assignee": map[string]any{"email": "a@b.c"},
		})
		require.NoError(t, err)
		assert.Equal(t, `t1."assigneeId" IN (SELECT t2."id" FROM "users" t2 WHERE t2."id" IS NOT NULL AND t2."email" = ?)`, sql)
	})

	t.Run("one-to-many none", func(t *testing.T) {
		sql, _, err := render(t, SQLite, "User", gcrud.Predicate{
			"tickets": map[string]any{"none": map[string]any{"status": "OPEN"}},
		})
		require.NoError(t, err)
		assert.Equal(t, `(t1."id" IS NULL OR t1."id" NOT IN (SELECT t2."assigneeId" FROM "Ticket" t2 WHERE t2."assigneeId" IS NOT NULL AND t2."status" = ?))`, sql)
	})

	t.Run("many-to-many some", func(t *testing.T) {
		sql, args, err := render(t, SQLite, "User", gcrud.Predicate{
			"roles": map[string]any{"some": map[string]any{"name": "admin"}},
		})
		require.NoError(t, err)
		assert.Equal(t, `t1."id" IN (SELECT t3."B" FROM "_RoleToUser" t3 INNER JOIN "Role" t2 ON t2."id" = t3."A" WHERE 1=1 AND t2."name" = ?)`, sql)
		assert.Equal(t, []any{"admin"}, args)
	})

	t.Run("many-to-many from the other side", func(t *testing.T) {
		sql, _, err := render(t, SQLite, "Role", gcrud.Predicate{"users": map[string]any{"not": nil}})
		require.NoError(t, err)
		assert.Equal(t, `t1."id" IN (SELECT t3."A" FROM "_RoleToUser" t3 INNER JOIN "users" t2 ON t2."id" = t3."B" WHERE 1=1)`, sql)
	})

	t.Run("is null", func(t *testing.T) {
		sql, _, err := render(t, SQLite, "Ticket", gcrud.Predicate{"assignee": map[string]any{"is": nil}})
		require.NoError(t, err)
		assert.Equal(t, `(t1."assigneeId" IS NULL OR t1."assigneeId" NOT IN (SELECT t2."id" FROM "users" t2 WHERE t2."id" IS NOT NULL))`, sql)
	})
}

func TestRenderErrors(t *testing.T) {
	_, _, err := render(t, SQLite, "Ticket", gcrud.Predicate{"colour": "red"})
	assert.True(t, gcrud.IsInvalidFieldReference(err))

	_, _, err = render(t, SQLite, "Ticket", gcrud.Predicate{"title": map[string]any{"search": "x"}})
	assert.True(t, gcrud.IsErrorType(err, gcrud.ErrorTypeUnsupported))

	_, _, err = render(t, SQLite, "Ticket", gcrud.Predicate{"assignee": 1})
	assert.True(t, gcrud.IsValidation(err))
}

func TestDialects(t *testing.T) {
	assert.Equal(t, "`a``b`", MySQL.Quote("a`b"))
	assert.Equal(t, "[x]", SQLServer.Quote("x"))
	assert.Equal(t, `"x"`, Postgres.Quote("x"))

	assert.Equal(t, "", Postgres.page(0, 0))
	assert.Equal(t, " LIMIT 10 OFFSET 0", Postgres.page(10, 0))
	assert.Equal(t, " OFFSET 4", Postgres.page(0, 4))
	assert.Equal(t, " LIMIT -1 OFFSET 3", SQLite.page(0, 3))
	assert.Equal(t, " OFFSET 10 ROWS FETCH NEXT 5 ROWS ONLY", SQLServer.page(5, 10))

	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = DialectFor("oracle")
	assert.True(t, gcrud.IsErrorType(err, gcrud.ErrorTypeUnsupported))
}

func TestDecode(t *testing.T) {
	f := func(typ gcrud.FieldType) *gcrud.FieldDescriptor {
		return &gcrud.FieldDescriptor{Name: "x", Type: typ}
	}
	assert.Equal(t, int64(3), decode(f(gcrud.FieldTypeInt), int32(3)))
	assert.Equal(t, int64(3), decode(f(gcrud.FieldTypeInt), []byte("3")))
	assert.Equal(t, 1.5, decode(f(gcrud.FieldTypeDecimal), "1.5"))
	assert.Equal(t, true, decode(f(gcrud.FieldTypeBoolean), int64(1)))
	assert.Equal(t, "abc", decode(f(gcrud.FieldTypeString), []byte("abc")))
	assert.Equal(t, map[string]any{"a": 1.0}, decode(f(gcrud.FieldTypeJSON), `{"a":1}`))
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		decode(f(gcrud.FieldTypeDateTime), "2024-03-05 10:00:00+00:00"))
	assert.Nil(t, decode(f(gcrud.FieldTypeInt), nil))
}

func TestConvertError(t *testing.T) {
	assert.False(t, gcrud.IsDuplicate(ConvertError(assert.AnError)))
	assert.True(t, gcrud.IsDuplicate(ConvertError(errString("UNIQUE constraint failed: users.email"))))
	assert.True(t, gcrud.IsErrorType(ConvertError(errString("FOREIGN KEY constraint failed")), gcrud.ErrorTypeConstraint))
	assert.True(t, gcrud.IsNotFound(ConvertError(gcrud.ErrNotFound("User", 1))))
	assert.Nil(t, ConvertError(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
