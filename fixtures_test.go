package gcrud

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEntities() []EntityDescriptor {
	return []EntityDescriptor{
		{
			Name:   "User",
			DBName: "users",
			Fields: []FieldDescriptor{
				{Name: "id", Type: FieldTypeInt, IsRequired: true, IsID: true, HasDefault: true},
				{Name: "email", Type: FieldTypeString, IsRequired: true, IsUnique: true},
				{Name: "name", Type: FieldTypeString},
				{Name: "age", Type: FieldTypeInt},
				{Name: "createdAt", Type: FieldTypeDateTime, IsRequired: true, HasDefault: true},
				{Name: "roles", Type: FieldTypeRelation, IsRelation: true, RelationTarget: "Role", IsList: true, IsRequired: true},
				{Name: "tickets", Type: FieldTypeRelation, IsRelation: true, RelationTarget: "Ticket", IsList: true, IsRequired: true, RelationName: "TicketAssignee"},
			},
			DisplayFields: []string{"id", "email", "name"},
		},
		{
			Name: "Role",
			Fields: []FieldDescriptor{
				{Name: "id", Type: FieldTypeInt, IsRequired: true, IsID: true},
				{Name: "name", Type: FieldTypeString, IsRequired: true},
				{Name: "users", Type: FieldTypeRelation, IsRelation: true, RelationTarget: "User", IsList: true, IsRequired: true},
			},
		},
		{
			Name: "Ticket",
			Fields: []FieldDescriptor{
				{Name: "id", Type: FieldTypeInt, IsRequired: true, IsID: true},
				{Name: "title", Type: FieldTypeString, IsRequired: true},
				{Name: "status", Type: FieldTypeString, IsRequired: true},
				{Name: "priority", Type: FieldTypeInt, IsRequired: true},
				{Name: "estimate", Type: FieldTypeDecimal},
				{Name: "open", Type: FieldTypeBoolean, IsRequired: true},
				{Name: "payload", Type: FieldTypeJSON},
				{Name: "dueAt", Type: FieldTypeDateTime},
				{Name: "createdAt", Type: FieldTypeDateTime, IsRequired: true},
				{Name: "assigneeId", Type: FieldTypeInt},
				{
					Name: "assignee", Type: FieldTypeRelation, IsRelation: true, RelationTarget: "User",
					RelationName: "TicketAssignee", RelationFromFields: []string{"assigneeId"}, RelationToFields: []string{"id"},
				},
			},
			DisplayFields: []string{"id", "title", "status"},
		},
	}
}

func testRegistry(t *testing.T) *SchemaRegistry {
	t.Helper()
	r, err := NewSchemaRegistry(testEntities())
	require.NoError(t, err)
	return r
}
