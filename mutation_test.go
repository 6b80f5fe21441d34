package gcrud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildUpdatePayload(t *testing.T) {
	r := testRegistry(t)
	user, _ := r.Entity("User")

	t.Run("scalars pass through, relations become set directives", func(t *testing.T) {
		got := BuildUpdatePayload(user, Record{"name": "A", "roles": []any{1, 2}, "tickets": nil}, UpdateOptions{})
		assert.Equal(t, Record{
			"name":  "A",
			"roles": map[string]any{"set": []any{map[string]any{"id": 1}, map[string]any{"id": 2}}},
		}, got)
	})

	t.Run("scalar relation value maps to a single id", func(t *testing.T) {
		got := BuildUpdatePayload(user, Record{"roles": 4}, UpdateOptions{RelationOperation: RelationConnect})
		assert.Equal(t, Record{"roles": map[string]any{"connect": map[string]any{"id": 4}}}, got)
	})

	t.Run("nil scalar is kept", func(t *testing.T) {
		got := BuildUpdatePayload(user, Record{"name": nil}, UpdateOptions{})
		assert.Equal(t, Record{"name": nil}, got)
	})

	t.Run("custom mapper", func(t *testing.T) {
		mapper := func(v any) any { return map[string]any{"email": v} }
		got := BuildUpdatePayload(user, Record{"roles": "x@y"}, UpdateOptions{RelationValueMapper: mapper})
		assert.Equal(t, Record{"roles": map[string]any{"set": map[string]any{"email": "x@y"}}}, got)
	})

	t.Run("explicit nil can disconnect", func(t *testing.T) {
		got := BuildUpdatePayload(user, Record{"tickets": nil}, UpdateOptions{NullRelations: NullRelationDisconnect})
		assert.Equal(t, Record{"tickets": map[string]any{"disconnect": true}}, got)
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := Record{"name": "A", "roles": []any{1}}
		BuildUpdatePayload(user, in, UpdateOptions{})
		assert.Equal(t, Record{"name": "A", "roles": []any{1}}, in)
	})
}

func TestRelationDirective(t *testing.T) {
	op, operand, ok := RelationDirective(map[string]any{"connect": []any{map[string]any{"id": 1}}})
	assert.True(t, ok)
	assert.Equal(t, RelationConnect, op)
	assert.Equal(t, []any{1}, DirectiveIDs(operand))

	_, _, ok = RelationDirective(5)
	assert.False(t, ok)
	_, _, ok = RelationDirective(map[string]any{"set": 1, "connect": 2})
	assert.False(t, ok)

	assert.Equal(t, []any{3}, DirectiveIDs(map[string]any{"id": 3}))
	assert.Equal(t, []any{1, 2}, DirectiveIDs([]int{1, 2}))
	assert.Nil(t, DirectiveIDs(nil))
}

func TestBuildSelection(t *testing.T) {
	assert.Nil(t, BuildSelection(nil))

	got := BuildSelection([]string{"email", "roles.name", "roles.id", "tickets.assignee.email"})
	assert.Equal(t, Selection{
		"email": true,
		"roles": map[string]any{"select": map[string]any{"name": true, "id": true}},
		"tickets": map[string]any{"select": map[string]any{
			"assignee": map[string]any{"select": map[string]any{"email": true}},
		}},
	}, got)

	// A nested selection wins over a bare relation name in either order.
	assert.Equal(t, BuildSelection([]string{"roles", "roles.name"}), BuildSelection([]string{"roles.name", "roles"}))

	fields, rels := SelectedFields(got)
	assert.Equal(t, []string{"email"}, fields)
	assert.Equal(t, Selection{"name": true, "id": true}, rels["roles"])
	assert.Len(t, rels, 2)
}
