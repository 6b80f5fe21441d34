package gcrudmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lemmego/gcrud"
)

func testSchema(t *testing.T) *gcrud.SchemaRegistry {
	t.Helper()
	r, err := gcrud.NewSchemaRegistry([]gcrud.EntityDescriptor{
		{
			Name: "User",
			Fields: []gcrud.FieldDescriptor{
				{Name: "id", Type: gcrud.FieldTypeInt, IsRequired: true, IsID: true, HasDefault: true},
				{Name: "email", Type: gcrud.FieldTypeString, IsRequired: true, IsUnique: true},
				{Name: "name", Type: gcrud.FieldTypeString},
				{Name: "roles", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "Role", IsList: true, IsRequired: true},
				{Name: "tickets", Type: gcrud.FieldTypeRelation, IsRelation: true, RelationTarget: "Ticket", IsList: true, IsRequired: true},
			},
			DisplayFields: []string{"id", "email", "name"},
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
			DisplayFields: []string{"id", "title", "status"},
		},
	})
	require.NoError(t, err)
	return r
}

type MemoryStoreTestSuite struct {
	suite.Suite
	ctx      context.Context
	schema   *gcrud.SchemaRegistry
	provider *Provider
	users    *gcrud.Service
	tickets  *gcrud.Service
	roles    *gcrud.Service
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.schema = testSchema(s.T())
	s.provider = New(s.schema)
	s.users = s.service("User")
	s.tickets = s.service("Ticket")
	s.roles = s.service("Role")
}

func (s *MemoryStoreTestSuite) TearDownTest() {
	s.NoError(s.provider.Close())
}

func (s *MemoryStoreTestSuite) service(entity string) *gcrud.Service {
	store, err := s.provider.Store(entity)
	s.Require().NoError(err)
	svc, err := gcrud.NewService(s.schema, entity, store)
	s.Require().NoError(err)
	return svc
}

func (s *MemoryStoreTestSuite) seedTickets() {
	for i := 1; i <= 10; i++ {
		status := "OPEN"
		if i > 7 {
			status = "CLOSED"
		}
		_, err := s.tickets.Create(s.ctx, gcrud.Record{
			"title":    fmt.Sprintf("ticket %02d", i),
			"status":   status,
			"priority": i % 4,
		})
		s.Require().NoError(err)
	}
}

func (s *MemoryStoreTestSuite) TestCreateAssignsKeyAndDefaults() {
	u, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)
	s.Equal(int64(1), u["id"])
	s.Nil(u["name"])

	u2, err := s.users.Create(s.ctx, gcrud.Record{"email": "bob@example.com", "name": "Bob"})
	s.Require().NoError(err)
	s.Equal(int64(2), u2["id"])
}

func (s *MemoryStoreTestSuite) TestCreateValidates() {
	_, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)

	_, err = s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.True(gcrud.IsDuplicate(err))

	_, err = s.users.Create(s.ctx, gcrud.Record{"name": "no email"})
	s.True(gcrud.IsValidation(err))

	_, err = s.users.Create(s.ctx, gcrud.Record{"email": "x@example.com", "nickname": "x"})
	s.True(gcrud.IsInvalidFieldReference(err))
}

func (s *MemoryStoreTestSuite) TestGetOneAndDelete() {
	u, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com", "name": "Ann"})
	s.Require().NoError(err)

	got, err := s.users.GetOne(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(u, got)

	deleted, err := s.users.DeleteItem(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(gcrud.Record{"id": int64(1)}, deleted)

	got, err = s.users.GetOne(s.ctx, 1)
	s.Require().NoError(err)
	s.Empty(got)

	_, err = s.users.DeleteItem(s.ctx, 1)
	s.True(gcrud.IsNotFound(err))
}

func (s *MemoryStoreTestSuite) TestGetAllPagesAndCounts() {
	s.seedTickets()

	res, err := s.tickets.GetAll(s.ctx, gcrud.SearchRequest{
		Filters: []gcrud.FilterGroup{{"status": {Mode: gcrud.ModeEqual, Value: "open"}}},
		Limit:   5,
	})
	s.Require().NoError(err)
	s.Equal(int64(7), res.Total)
	s.Len(res.Items, 5)
	s.Equal(gcrud.Record{"id": int64(1), "title": "ticket 01", "status": "OPEN"}, res.Items[0])

	res, err = s.tickets.GetAll(s.ctx, gcrud.SearchRequest{
		Filters: []gcrud.FilterGroup{{"status": {Mode: gcrud.ModeEqual, Value: "open"}}},
		Offset:  5,
		Limit:   5,
	})
	s.Require().NoError(err)
	s.Equal(int64(7), res.Total)
	s.Len(res.Items, 2)
}

func (s *MemoryStoreTestSuite) TestGetAllOrGroupsAndOrdering() {
	s.seedTickets()

	res, err := s.tickets.GetAll(s.ctx, gcrud.SearchRequest{
		Filters: []gcrud.FilterGroup{
			{"status": {Mode: gcrud.ModeEqual, Value: "CLOSED"}},
			{"priority": {Mode: gcrud.ModeRange, Value: []any{3, 3}}},
		},
		OrderBy: gcrud.OrderBy{{Field: "id", Direction: gcrud.SortDesc}},
		Fields:  []string{"id"},
	})
	s.Require().NoError(err)
	// priority 3 holds for tickets 3 and 7; 8 to 10 are closed
	s.Equal(int64(5), res.Total)
	ids := make([]any, 0, len(res.Items))
	for _, item := range res.Items {
		ids = append(ids, item["id"])
	}
	s.Equal([]any{int64(10), int64(9), int64(8), int64(7), int64(3)}, ids)
}

func (s *MemoryStoreTestSuite) TestEmptyAndDateModes() {
	_, err := s.tickets.Create(s.ctx, gcrud.Record{"title": "a", "status": "OPEN", "priority": 1, "dueAt": "2024-03-05T10:00:00Z"})
	s.Require().NoError(err)
	_, err = s.tickets.Create(s.ctx, gcrud.Record{"title": "b", "status": "OPEN", "priority": 1, "dueAt": "2024-03-06T00:00:00Z"})
	s.Require().NoError(err)
	_, err = s.tickets.Create(s.ctx, gcrud.Record{"title": "c", "status": "OPEN", "priority": 1})
	s.Require().NoError(err)

	count := func(g gcrud.FilterGroup) int64 {
		n, err := s.tickets.Count(s.ctx, []gcrud.FilterGroup{g})
		s.Require().NoError(err)
		return n
	}
	s.Equal(int64(1), count(gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeEqual, Value: "2024-03-05"}}))
	s.Equal(int64(1), count(gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeExclude, Value: "2024-03-05"}}))
	s.Equal(int64(1), count(gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeEmpty}}))
	s.Equal(int64(2), count(gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeNotEmpty}}))
	s.Equal(int64(2), count(gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeLess, Value: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}}))
	s.Equal(int64(3), count(gcrud.FilterGroup{"title": {Mode: gcrud.ModeExclude, Value: "z"}}))
}

func (s *MemoryStoreTestSuite) TestRelationFilters() {
	admin, err := s.roles.Create(s.ctx, gcrud.Record{"name": "admin"})
	s.Require().NoError(err)
	_, err = s.roles.Create(s.ctx, gcrud.Record{"name": "agent"})
	s.Require().NoError(err)

	ann, err := s.users.Create(s.ctx, gcrud.Record{
		"email": "ann@example.com",
		"roles": map[string]any{"connect": []any{map[string]any{"id": admin["id"]}}},
	})
	s.Require().NoError(err)
	_, err = s.users.Create(s.ctx, gcrud.Record{"email": "bob@example.com"})
	s.Require().NoError(err)

	_, err = s.tickets.Create(s.ctx, gcrud.Record{
		"title": "printer", "status": "OPEN", "priority": 2,
		"assignee": map[string]any{"connect": map[string]any{"id": ann["id"]}},
	})
	s.Require().NoError(err)
	_, err = s.tickets.Create(s.ctx, gcrud.Record{"title": "vpn", "status": "OPEN", "priority": 2})
	s.Require().NoError(err)

	count := func(svc *gcrud.Service, g gcrud.FilterGroup) int64 {
		n, err := svc.Count(s.ctx, []gcrud.FilterGroup{g})
		s.Require().NoError(err)
		return n
	}

	s.Equal(int64(1), count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeEqual, Value: []any{admin["id"]}}}))
	s.Equal(int64(1), count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeExclude, Value: []any{admin["id"]}}}))
	s.Equal(int64(1), count(s.users, gcrud.FilterGroup{
		"roles": {Mode: gcrud.ModeEqual, Value: "ADM", NestedFieldPath: "roles.some.name"},
	}))

	s.Equal(int64(1), count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeEqual, Value: ann["id"]}}))
	s.Equal(int64(1), count(s.tickets, gcrud.FilterGroup{"assigneeId": {Mode: gcrud.ModeNotEmpty}}))
	s.Equal(int64(2), count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeNotEmpty}}), "NEM on a relation does not filter")
	s.Equal(int64(2), count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeRange, Value: []any{1, 2}}}), "RG on a relation does not filter")
	s.Equal(int64(1), count(s.tickets, gcrud.FilterGroup{
		"assignee": {Mode: gcrud.ModeEqual, Value: "ann@", NestedFieldPath: "assignee.email"},
	}))
	s.Equal(int64(1), count(s.users, gcrud.FilterGroup{
		"tickets": {Mode: gcrud.ModeEqual, Value: "print", NestedFieldPath: "tickets.some.title"},
	}))
}

func (s *MemoryStoreTestSuite) TestUpdateScalarsAndRelations() {
	admin, err := s.roles.Create(s.ctx, gcrud.Record{"name": "admin"})
	s.Require().NoError(err)
	agent, err := s.roles.Create(s.ctx, gcrud.Record{"name": "agent"})
	s.Require().NoError(err)
	u, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)

	updated, err := s.users.Update(s.ctx, u["id"], gcrud.Record{"name": "Ann", "roles": []any{admin["id"], agent["id"]}})
	s.Require().NoError(err)
	s.Equal("Ann", updated["name"])

	roleNames := func() []any {
		res, err := s.users.GetAll(s.ctx, gcrud.SearchRequest{Fields: []string{"id", "roles.name"}})
		s.Require().NoError(err)
		s.Require().Len(res.Items, 1)
		var names []any
		for _, r := range res.Items[0]["roles"].([]gcrud.Record) {
			names = append(names, r["name"])
		}
		return names
	}
	s.ElementsMatch([]any{"admin", "agent"}, roleNames())

	_, err = s.users.Update(s.ctx, u["id"], gcrud.Record{"roles": []any{agent["id"]}},
		gcrud.UpdateOptions{RelationOperation: gcrud.RelationDisconnect})
	s.Require().NoError(err)
	s.Equal([]any{"admin"}, roleNames())

	_, err = s.users.Update(s.ctx, u["id"], gcrud.Record{"roles": []any{agent["id"]}})
	s.Require().NoError(err)
	s.Equal([]any{"agent"}, roleNames())

	_, err = s.users.Update(s.ctx, u["id"], gcrud.Record{"roles": []any{99}})
	s.True(gcrud.IsNotFound(err))

	_, err = s.users.Update(s.ctx, 42, gcrud.Record{"name": "ghost"})
	s.True(gcrud.IsNotFound(err))
}

func (s *MemoryStoreTestSuite) TestUpdateToOneRelation() {
	u, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)
	tk, err := s.tickets.Create(s.ctx, gcrud.Record{"title": "t", "status": "OPEN", "priority": 1})
	s.Require().NoError(err)

	updated, err := s.tickets.Update(s.ctx, tk["id"], gcrud.Record{"assignee": u["id"]},
		gcrud.UpdateOptions{RelationOperation: gcrud.RelationConnect})
	s.Require().NoError(err)
	s.Equal(u["id"], updated["assigneeId"])

	updated, err = s.tickets.Update(s.ctx, tk["id"], gcrud.Record{"assignee": nil},
		gcrud.UpdateOptions{NullRelations: gcrud.NullRelationDisconnect})
	s.Require().NoError(err)
	s.Nil(updated["assigneeId"])

	_, err = s.tickets.Update(s.ctx, tk["id"], gcrud.Record{"assignee": u["id"]},
		gcrud.UpdateOptions{RelationOperation: gcrud.RelationUpsert})
	s.True(gcrud.IsErrorType(err, gcrud.ErrorTypeUnsupported))
}

func (s *MemoryStoreTestSuite) TestIncludeLoadsRelations() {
	u, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)
	_, err = s.tickets.Create(s.ctx, gcrud.Record{
		"title": "t", "status": "OPEN", "priority": 1,
		"assignee": map[string]any{"connect": map[string]any{"id": u["id"]}},
	})
	s.Require().NoError(err)

	res, err := s.tickets.GetAll(s.ctx, gcrud.SearchRequest{Include: []string{"assignee"}})
	s.Require().NoError(err)
	s.Require().Len(res.Items, 1)
	assignee, ok := res.Items[0]["assignee"].(gcrud.Record)
	s.Require().True(ok)
	s.Equal("ann@example.com", assignee["email"])
}

func (s *MemoryStoreTestSuite) TestDeleteRemovesJoinRows() {
	admin, err := s.roles.Create(s.ctx, gcrud.Record{"name": "admin"})
	s.Require().NoError(err)
	u, err := s.users.Create(s.ctx, gcrud.Record{
		"email": "ann@example.com",
		"roles": map[string]any{"connect": []any{map[string]any{"id": admin["id"]}}},
	})
	s.Require().NoError(err)

	_, err = s.users.DeleteItem(s.ctx, u["id"])
	s.Require().NoError(err)

	n, err := s.roles.Count(s.ctx, []gcrud.FilterGroup{{"users": {Mode: gcrud.ModeEqual, Value: []any{u["id"]}}}})
	s.Require().NoError(err)
	s.Zero(n)
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func TestProviderLifecycle(t *testing.T) {
	p := New(testSchema(t))
	assert.NoError(t, p.Health(context.Background()))
	assert.Equal(t, gcrud.DatabaseTypeMemory, p.ProviderInfo().DatabaseType)

	_, err := p.Store("Ghost")
	assert.True(t, gcrud.IsUnknownEntity(err))

	require.NoError(t, p.Close())
	assert.True(t, gcrud.IsConnection(p.Health(context.Background())))
}

func TestFactoryRegistered(t *testing.T) {
	f, err := gcrud.Registry().Factory("memory")
	require.NoError(t, err)
	_, err = f.Create(gcrud.Config{}, nil)
	assert.True(t, gcrud.IsValidation(err))

	p, err := f.Create(gcrud.Config{}, testSchema(t))
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
