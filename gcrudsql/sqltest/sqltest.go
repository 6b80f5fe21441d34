// Package sqltest is the conformance suite every SQL adapter runs against a
// real database. Adapters supply Open; the suite owns schema, data and
// expectations.
package sqltest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lemmego/gcrud"
)

// Entities is the schema the suite runs against
func Entities() []gcrud.EntityDescriptor {
	return []gcrud.EntityDescriptor{
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
	}
}

// SQLiteDDL creates the suite's tables in SQLite
var SQLiteDDL = []string{
	`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "email" TEXT NOT NULL UNIQUE, "name" TEXT)`,
	`CREATE TABLE "Role" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" TEXT NOT NULL)`,
	`CREATE TABLE "Ticket" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "title" TEXT NOT NULL, "status" TEXT NOT NULL, ` +
		`"priority" INTEGER NOT NULL, "dueAt" DATETIME, "assigneeId" INTEGER REFERENCES "users"("id"))`,
	`CREATE TABLE "_RoleToUser" ("A" INTEGER NOT NULL REFERENCES "Role"("id"), "B" INTEGER NOT NULL REFERENCES "users"("id"), UNIQUE ("A", "B"))`,
}

// Suite drives gcrud services over a provider returned by Open
type Suite struct {
	suite.Suite

	// Open returns a provider over an empty database holding the suite's tables
	Open func(schema *gcrud.SchemaRegistry) (gcrud.Provider, error)

	ctx      context.Context
	schema   *gcrud.SchemaRegistry
	provider gcrud.Provider
	users    *gcrud.Service
	roles    *gcrud.Service
	tickets  *gcrud.Service
}

func (s *Suite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.schema, err = gcrud.NewSchemaRegistry(Entities())
	s.Require().NoError(err)
	s.provider, err = s.Open(s.schema)
	s.Require().NoError(err)

	s.users = s.service("User")
	s.roles = s.service("Role")
	s.tickets = s.service("Ticket")
}

func (s *Suite) TearDownTest() {
	if s.provider != nil {
		s.NoError(s.provider.Close())
	}
}

func (s *Suite) service(entity string) *gcrud.Service {
	store, err := s.provider.Store(entity)
	s.Require().NoError(err)
	svc, err := gcrud.NewService(s.schema, entity, store)
	s.Require().NoError(err)
	return svc
}

func (s *Suite) count(svc *gcrud.Service, g gcrud.FilterGroup) int64 {
	n, err := svc.Count(s.ctx, []gcrud.FilterGroup{g})
	s.Require().NoError(err)
	return n
}

func (s *Suite) seedTickets() {
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

func (s *Suite) TestHealth() {
	s.NoError(s.provider.Health(s.ctx))
	s.Equal(gcrud.DatabaseTypeSQL, s.provider.ProviderInfo().DatabaseType)
}

func (s *Suite) TestCreateAndGetOne() {
	created, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com", "name": "Ann"})
	s.Require().NoError(err)
	s.Equal(gcrud.Record{"id": int64(1), "email": "ann@example.com", "name": "Ann"}, created)

	got, err := s.users.GetOne(s.ctx, created["id"])
	s.Require().NoError(err)
	s.Equal(created, got)

	missing, err := s.users.GetOne(s.ctx, 99)
	s.Require().NoError(err)
	s.Empty(missing)
}

func (s *Suite) TestDuplicateIsReported() {
	_, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)
	_, err = s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.True(gcrud.IsDuplicate(err), "got %v", err)
}

func (s *Suite) TestGetAllPagesAndCounts() {
	s.seedTickets()

	res, err := s.tickets.GetAll(s.ctx, gcrud.SearchRequest{
		Filters: []gcrud.FilterGroup{{"status": {Mode: gcrud.ModeEqual, Value: "open"}}},
		Limit:   5,
	})
	s.Require().NoError(err)
	s.Equal(int64(7), res.Total)
	s.Require().Len(res.Items, 5)
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

func (s *Suite) TestOrGroupsAndOrdering() {
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
	s.Equal(int64(5), res.Total)
	ids := make([]any, 0, len(res.Items))
	for _, item := range res.Items {
		ids = append(ids, item["id"])
	}
	s.Equal([]any{int64(10), int64(9), int64(8), int64(7), int64(3)}, ids)

	s.Equal(int64(2), s.count(s.tickets, gcrud.FilterGroup{"status": {Mode: gcrud.ModeEqual, Value: []any{"OPEN", "CLOSED"}}, "priority": {Mode: gcrud.ModeLess, Value: 1}}))
}

func (s *Suite) TestDateAndEmptyModes() {
	for _, t := range []gcrud.Record{
		{"title": "a", "status": "OPEN", "priority": 1, "dueAt": time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"title": "b", "status": "OPEN", "priority": 1, "dueAt": time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		{"title": "c", "status": "OPEN", "priority": 1},
	} {
		_, err := s.tickets.Create(s.ctx, t)
		s.Require().NoError(err)
	}

	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeEqual, Value: "2024-03-05"}}))
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeExclude, Value: "2024-03-05"}}))
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeEmpty}}))
	s.Equal(int64(2), s.count(s.tickets, gcrud.FilterGroup{"dueAt": {Mode: gcrud.ModeNotEmpty}}))
	s.Equal(int64(3), s.count(s.tickets, gcrud.FilterGroup{"title": {Mode: gcrud.ModeExclude, Value: "z"}}))

	got, err := s.tickets.GetOne(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), got["dueAt"])
}

func (s *Suite) TestRelationFiltersAndDirectives() {
	admin, err := s.roles.Create(s.ctx, gcrud.Record{"name": "admin"})
	s.Require().NoError(err)
	agent, err := s.roles.Create(s.ctx, gcrud.Record{"name": "agent"})
	s.Require().NoError(err)

	ann, err := s.users.Create(s.ctx, gcrud.Record{
		"email": "ann@example.com",
		"roles": map[string]any{"connect": []any{map[string]any{"id": admin["id"]}}},
	})
	s.Require().NoError(err)
	_, err = s.users.Create(s.ctx, gcrud.Record{"email": "bob@example.com"})
	s.Require().NoError(err)

	ticket, err := s.tickets.Create(s.ctx, gcrud.Record{
		"title": "printer", "status": "OPEN", "priority": 2,
		"assignee": map[string]any{"connect": map[string]any{"id": ann["id"]}},
	})
	s.Require().NoError(err)
	s.Equal(ann["id"], ticket["assigneeId"])
	_, err = s.tickets.Create(s.ctx, gcrud.Record{"title": "vpn", "status": "OPEN", "priority": 2})
	s.Require().NoError(err)

	s.Equal(int64(1), s.count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeEqual, Value: []any{admin["id"]}}}))
	s.Equal(int64(1), s.count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeExclude, Value: []any{admin["id"]}}}))
	s.Equal(int64(1), s.count(s.users, gcrud.FilterGroup{"roles": {Mode: gcrud.ModeEqual, Value: "ADM", NestedFieldPath: "roles.some.name"}}))
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeEqual, Value: ann["id"]}}))
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"assigneeId": {Mode: gcrud.ModeNotEmpty}}))
	s.Equal(int64(2), s.count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeNotEmpty}}))
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeEqual, Value: "ann@", NestedFieldPath: "assignee.email"}}))
	s.Equal(int64(1), s.count(s.users, gcrud.FilterGroup{"tickets": {Mode: gcrud.ModeEqual, Value: "print", NestedFieldPath: "tickets.some.title"}}))

	roleNames := func() []any {
		res, err := s.users.GetAll(s.ctx, gcrud.SearchRequest{
			Filters: []gcrud.FilterGroup{{"id": {Mode: gcrud.ModeEqual, Value: ann["id"]}}},
			Fields:  []string{"id", "roles.name"},
		})
		s.Require().NoError(err)
		s.Require().Len(res.Items, 1)
		var names []any
		for _, r := range res.Items[0]["roles"].([]gcrud.Record) {
			names = append(names, r["name"])
		}
		return names
	}
	s.Equal([]any{"admin"}, roleNames())

	_, err = s.users.Update(s.ctx, ann["id"], gcrud.Record{"name": "Ann", "roles": []any{admin["id"], agent["id"]}})
	s.Require().NoError(err)
	s.Equal([]any{"admin", "agent"}, roleNames())

	_, err = s.users.Update(s.ctx, ann["id"], gcrud.Record{"roles": []any{admin["id"]}},
		gcrud.UpdateOptions{RelationOperation: gcrud.RelationDisconnect})
	s.Require().NoError(err)
	s.Equal([]any{"agent"}, roleNames())

	_, err = s.users.Update(s.ctx, ann["id"], gcrud.Record{"roles": []any{99}})
	s.True(gcrud.IsNotFound(err), "got %v", err)

	updated, err := s.tickets.Update(s.ctx, ticket["id"], gcrud.Record{"assignee": nil},
		gcrud.UpdateOptions{NullRelations: gcrud.NullRelationDisconnect})
	s.Require().NoError(err)
	s.Nil(updated["assigneeId"])

	_, err = s.users.Update(s.ctx, ann["id"], gcrud.Record{"tickets": []any{ticket["id"]}})
	s.Require().NoError(err)
	s.Equal(int64(1), s.count(s.tickets, gcrud.FilterGroup{"assignee": {Mode: gcrud.ModeEqual, Value: ann["id"]}}))

	_, err = s.users.Update(s.ctx, 42, gcrud.Record{"name": "ghost"})
	s.True(gcrud.IsNotFound(err), "got %v", err)
}

func (s *Suite) TestIncludeLoadsRelations() {
	ann, err := s.users.Create(s.ctx, gcrud.Record{"email": "ann@example.com"})
	s.Require().NoError(err)
	_, err = s.tickets.Create(s.ctx, gcrud.Record{
		"title": "t", "status": "OPEN", "priority": 1,
		"assignee": map[string]any{"connect": map[string]any{"id": ann["id"]}},
	})
	s.Require().NoError(err)

	res, err := s.tickets.GetAll(s.ctx, gcrud.SearchRequest{Include: []string{"assignee"}})
	s.Require().NoError(err)
	s.Require().Len(res.Items, 1)
	assignee, ok := res.Items[0]["assignee"].(gcrud.Record)
	s.Require().True(ok)
	s.Equal("ann@example.com", assignee["email"])
	s.NotContains(res.Items[0], "assigneeId")
}

func (s *Suite) TestDeleteItem() {
	admin, err := s.roles.Create(s.ctx, gcrud.Record{"name": "admin"})
	s.Require().NoError(err)
	ann, err := s.users.Create(s.ctx, gcrud.Record{
		"email": "ann@example.com",
		"roles": map[string]any{"connect": []any{map[string]any{"id": admin["id"]}}},
	})
	s.Require().NoError(err)

	deleted, err := s.users.DeleteItem(s.ctx, ann["id"])
	s.Require().NoError(err)
	s.Equal(gcrud.Record{"id": ann["id"]}, deleted)

	s.Zero(s.count(s.roles, gcrud.FilterGroup{"users": {Mode: gcrud.ModeEqual, Value: []any{ann["id"]}}}))

	_, err = s.users.DeleteItem(s.ctx, ann["id"])
	s.True(gcrud.IsNotFound(err), "got %v", err)
}
