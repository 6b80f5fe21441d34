package gcrudsql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmego/gcrud"
)

type statement struct {
	query string
	args  []any
}

// scriptedExecutor records statements and answers queries from a table keyed by SQL text
type scriptedExecutor struct {
	rows     map[string][]map[string]any
	executed []statement
}

func (e *scriptedExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	e.executed = append(e.executed, statement{query, args})
	return e.rows[query], nil
}

func (e *scriptedExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	e.executed = append(e.executed, statement{query, args})
	return 1, nil
}

func (e *scriptedExecutor) Transaction(ctx context.Context, fn func(tx Executor) error) error {
	return fn(e)
}

func TestFindManyLoadsToOneRelation(t *testing.T) {
	main := `SELECT t1."id" AS "id", t1."title" AS "title", t1."assigneeId" AS "assigneeId" FROM "Ticket" t1 WHERE 1=1 ORDER BY t1."id" ASC LIMIT 10 OFFSET 0`
	load := `SELECT t1."id" AS "id", t1."email" AS "email", t1."name" AS "name", t1."id" AS "__owner_key" FROM "users" t1 WHERE t1."id" IN (?) ORDER BY t1."id" ASC`
	exec := &scriptedExecutor{rows: map[string][]map[string]any{
		main: {
			{"id": int64(1), "title": "a", "assigneeId": int64(7)},
			{"id": int64(2), "title": "b", "assigneeId": nil},
		},
		load: {
			{"id": int64(7), "email": "x@y.z", "name": nil, "__owner_key": int64(7)},
		},
	}}

	store, err := NewStore(exec, SQLite, testRegistry(t), "Ticket")
	require.NoError(t, err)

	rows, err := store.FindMany(context.Background(), gcrud.FindManyArgs{
		Where:   gcrud.Predicate{},
		Select:  gcrud.Selection{"id": true, "title": true},
		Include: []string{"assignee"},
		Take:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, []gcrud.Record{
		{"id": int64(1), "title": "a", "assignee": gcrud.Record{"id": int64(7), "email": "x@y.z", "name": nil}},
		{"id": int64(2), "title": "b", "assignee": nil},
	}, rows)

	require.Len(t, exec.executed, 2)
	assert.Equal(t, []any{int64(7)}, exec.executed[1].args)
}

func TestFindManyLoadsManyToMany(t *testing.T) {
	main := `SELECT t1."email" AS "email", t1."id" AS "id" FROM "users" t1 WHERE 1=1 ORDER BY t1."email" DESC LIMIT 5 OFFSET 5`
	load := `SELECT t1."name" AS "name", t2."B" AS "__owner_key" FROM "_RoleToUser" t2 INNER JOIN "Role" t1 ON t1."id" = t2."A" WHERE t2."B" IN (?, ?) ORDER BY t1."id" ASC`
	exec := &scriptedExecutor{rows: map[string][]map[string]any{
		main: {
			{"id": int64(1), "email": "a"},
			{"id": int64(2), "email": "b"},
		},
		load: {
			{"name": "admin", "__owner_key": int64(1)},
			{"name": "agent", "__owner_key": int64(1)},
		},
	}}

	store, err := NewStore(exec, SQLite, testRegistry(t), "User")
	require.NoError(t, err)

	rows, err := store.FindMany(context.Background(), gcrud.FindManyArgs{
		Select:  gcrud.BuildSelection([]string{"id", "email", "roles.name"}),
		OrderBy: gcrud.OrderBy{{Field: "email", Direction: gcrud.SortDesc}},
		Skip:    5,
		Take:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, []gcrud.Record{
		{"id": int64(1), "email": "a", "roles": []gcrud.Record{{"name": "admin"}, {"name": "agent"}}},
		{"id": int64(2), "email": "b", "roles": []gcrud.Record{}},
	}, rows)
}

func TestAggregateCountsField(t *testing.T) {
	query := `SELECT COUNT(t1."id") AS "id" FROM "Ticket" t1 WHERE t1."status" = ?`
	exec := &scriptedExecutor{rows: map[string][]map[string]any{
		query: {{"id": int64(7)}},
	}}
	store, err := NewStore(exec, SQLite, testRegistry(t), "Ticket")
	require.NoError(t, err)

	res, err := store.Aggregate(context.Background(), gcrud.AggregateArgs{
		Where: gcrud.Predicate{"status": "OPEN"},
		Count: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Count["id"])
}

func TestUpdateWritesManyToManyDirective(t *testing.T) {
	first := `SELECT t1."id" AS "id" FROM "users" t1 WHERE t1."id" = ? ORDER BY t1."id" ASC LIMIT 1 OFFSET 0`
	targets := `SELECT t1."id" AS "id" FROM "Role" t1 WHERE t1."id" IN (?, ?)`
	exec := &scriptedExecutor{rows: map[string][]map[string]any{
		first:   {{"id": int64(1)}},
		targets: {{"id": int64(3)}, {"id": int64(4)}},
	}}
	store, err := NewStore(exec, SQLite, testRegistry(t), "User")
	require.NoError(t, err)

	// the final read-back has no scripted rows
	_, err = store.Update(context.Background(), gcrud.UpdateArgs{
		Where: gcrud.Predicate{"id": 1},
		Data: gcrud.Record{
			"name":  "Ann",
			"roles": map[string]any{"set": []any{map[string]any{"id": 3}, map[string]any{"id": 4}}},
		},
	})
	assert.True(t, gcrud.IsNotFound(err))

	var writes []string
	for _, st := range exec.executed {
		if st.query != first && st.query != targets {
			writes = append(writes, st.query)
		}
	}
	assert.Equal(t, []string{
		`UPDATE "users" SET "name" = ? WHERE "id" = ?`,
		`DELETE FROM "_RoleToUser" WHERE "B" = ?`,
		`INSERT INTO "_RoleToUser" ("B", "A") VALUES (?, ?)`,
		`INSERT INTO "_RoleToUser" ("B", "A") VALUES (?, ?)`,
		`SELECT t1."id" AS "id", t1."email" AS "email", t1."name" AS "name" FROM "users" t1 WHERE t1."id" = ? ORDER BY t1."id" ASC LIMIT 1 OFFSET 0`,
	}, writes)
}

func TestCreateResolvesForeignKeyBeforeInsert(t *testing.T) {
	targets := `SELECT t1."id" AS "id" FROM "users" t1 WHERE t1."id" IN (?)`
	insert := `INSERT INTO "Ticket" ("assigneeId", "priority", "status", "title") VALUES (?, ?, ?, ?) RETURNING "id"`
	fetch := `SELECT t1."id" AS "id", t1."title" AS "title", t1."status" AS "status", t1."priority" AS "priority", t1."dueAt" AS "dueAt", t1."assigneeId" AS "assigneeId" FROM "Ticket" t1 WHERE t1."id" = ? ORDER BY t1."id" ASC LIMIT 1 OFFSET 0`
	exec := &scriptedExecutor{rows: map[string][]map[string]any{
		targets: {{"id": int64(7)}},
		insert:  {{"id": int64(11)}},
		fetch:   {{"id": int64(11), "title": "t", "status": "OPEN", "priority": int64(1), "dueAt": nil, "assigneeId": int64(7)}},
	}}
	store, err := NewStore(exec, SQLite, testRegistry(t), "Ticket")
	require.NoError(t, err)

	rec, err := store.Create(context.Background(), gcrud.Record{
		"title": "t", "status": "OPEN", "priority": 1,
		"assignee": map[string]any{"connect": map[string]any{"id": 7}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec["id"])
	assert.Equal(t, int64(7), rec["assigneeId"])

	require.Len(t, exec.executed, 3)
	assert.Equal(t, []any{int64(7), 1, "OPEN", "t"}, exec.executed[1].args)
}

func TestCreateRejectsUnsupportedDirective(t *testing.T) {
	store, err := NewStore(&scriptedExecutor{}, SQLite, testRegistry(t), "User")
	require.NoError(t, err)

	_, err = store.Create(context.Background(), gcrud.Record{
		"email": "a",
		"roles": map[string]any{"create": []any{map[string]any{"name": "x"}}},
	})
	assert.True(t, gcrud.IsErrorType(err, gcrud.ErrorTypeUnsupported))
}
