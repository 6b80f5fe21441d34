package gcrud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

// spyStore records every call and answers from canned values
type spyStore struct {
	calls []string

	created   Record
	first     Record
	many      []Record
	updated   Record
	deleted   Record
	count     int64
	err       error
	aggArgs   AggregateArgs
	manyArgs  FindManyArgs
	updArgs   UpdateArgs
	delArgs   DeleteArgs
	firstArgs Predicate
}

func (s *spyStore) Create(ctx context.Context, data Record) (Record, error) {
	s.calls = append(s.calls, "create")
	return s.created, s.err
}

func (s *spyStore) FindFirst(ctx context.Context, where Predicate) (Record, error) {
	s.calls = append(s.calls, "findFirst")
	s.firstArgs = where
	return s.first, s.err
}

func (s *spyStore) FindMany(ctx context.Context, args FindManyArgs) ([]Record, error) {
	s.calls = append(s.calls, "findMany")
	s.manyArgs = args
	return s.many, s.err
}

func (s *spyStore) Update(ctx context.Context, args UpdateArgs) (Record, error) {
	s.calls = append(s.calls, "update")
	s.updArgs = args
	return s.updated, s.err
}

func (s *spyStore) Delete(ctx context.Context, args DeleteArgs) (Record, error) {
	s.calls = append(s.calls, "delete")
	s.delArgs = args
	return s.deleted, s.err
}

func (s *spyStore) Aggregate(ctx context.Context, args AggregateArgs) (*AggregateResult, error) {
	s.calls = append(s.calls, "aggregate")
	s.aggArgs = args
	if s.err != nil {
		return nil, s.err
	}
	return &AggregateResult{Count: map[string]int64{"id": s.count}}, nil
}

type ServiceTestSuite struct {
	suite.Suite
	registry *SchemaRegistry
	store    *spyStore
	notifier *Notifier
	events   chan ChangeEvent
	svc      *Service
}

func (s *ServiceTestSuite) SetupTest() {
	s.registry = testRegistry(s.T())
	s.store = &spyStore{}
	s.notifier = NewNotifier()
	s.events = make(chan ChangeEvent, 8)
	s.notifier.Subscribe(func(ev ChangeEvent) { s.events <- ev })

	svc, err := NewService(s.registry, "Ticket", s.store,
		WithNotifier(s.notifier),
		WithLogger(zaptest.NewLogger(s.T())))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceTestSuite) TearDownTest() {
	s.notifier.Close()
}

func (s *ServiceTestSuite) TestCreateEmitsEvent() {
	s.store.created = Record{"id": 1, "title": "t"}

	got, err := s.svc.Create(context.Background(), Record{"title": "t"})
	s.Require().NoError(err)
	s.Equal(Record{"id": 1, "title": "t"}, got)

	ev := waitEvent(s.T(), s.events)
	s.Equal(EventCreate, ev.Kind)
	s.Equal("Ticket", ev.Entity)
	s.Equal(Record{"title": "t"}, ev.Data)
	s.Equal(got, ev.Result)
}

func (s *ServiceTestSuite) TestDeleteItemSelectsPrimaryKey() {
	s.store.deleted = Record{"id": 3}

	got, err := s.svc.DeleteItem(context.Background(), 3)
	s.Require().NoError(err)
	s.Equal(Record{"id": 3}, got)
	s.Equal(DeleteArgs{Where: Predicate{"id": 3}, Select: Selection{"id": true}}, s.store.delArgs)

	ev := waitEvent(s.T(), s.events)
	s.Equal(EventDelete, ev.Kind)
	s.Equal(3, ev.RecordID)
}

func (s *ServiceTestSuite) TestDeleteItemNotFoundPassesThrough() {
	s.store.err = ErrNotFound("Ticket", 99)

	_, err := s.svc.DeleteItem(context.Background(), 99)
	s.True(IsNotFound(err))
	s.Len(s.events, 0)
}

func (s *ServiceTestSuite) TestGetOne() {
	s.store.first = Record{"id": 2}
	got, err := s.svc.GetOne(context.Background(), 2)
	s.Require().NoError(err)
	s.Equal(Record{"id": 2}, got)
	s.Equal(Predicate{"id": 2}, s.store.firstArgs)

	s.store.first = nil
	got, err = s.svc.GetOne(context.Background(), 404)
	s.Require().NoError(err)
	s.NotNil(got)
	s.Empty(got)
}

func (s *ServiceTestSuite) TestUpdateBuildsRelationPayload() {
	s.store.updated = Record{"id": 1, "title": "new"}

	input := Record{"title": "new", "assignee": 5, "dueAt": nil}
	got, err := s.svc.Update(context.Background(), 1, input)
	s.Require().NoError(err)
	s.Equal(s.store.updated, got)
	s.Equal(UpdateArgs{
		Where: Predicate{"id": 1},
		Data: Record{
			"title":    "new",
			"dueAt":    nil,
			"assignee": map[string]any{"set": map[string]any{"id": 5}},
		},
	}, s.store.updArgs)

	ev := waitEvent(s.T(), s.events)
	s.Equal(EventUpdate, ev.Kind)
	s.Equal(1, ev.RecordID)
	s.Equal(input, ev.InputData)
}

func (s *ServiceTestSuite) TestUpdateWithOperation() {
	_, err := s.svc.Update(context.Background(), 1, Record{"assignee": 2}, UpdateOptions{RelationOperation: RelationConnect})
	s.Require().NoError(err)
	s.Equal(map[string]any{"connect": map[string]any{"id": 2}}, s.store.updArgs.Data["assignee"])
}

func (s *ServiceTestSuite) TestGetAllDefaults() {
	s.store.count = 3
	s.store.many = []Record{{"id": 1}, {"id": 2}, {"id": 3}}

	res, err := s.svc.GetAll(context.Background(), SearchRequest{})
	s.Require().NoError(err)
	s.Equal(int64(3), res.Total)
	s.Len(res.Items, 3)

	s.Equal([]string{"aggregate", "findMany"}, s.store.calls)
	s.Equal(AggregateArgs{Where: Predicate{}, Count: []string{"id"}}, s.store.aggArgs)
	s.Equal(FindManyArgs{
		Where:   Predicate{},
		Select:  Selection{"id": true, "title": true, "status": true},
		OrderBy: OrderBy{{Field: "id", Direction: SortAsc}},
		Skip:    0,
		Take:    10,
	}, s.store.manyArgs)
}

func (s *ServiceTestSuite) TestGetAllUsesSamePredicateForCountAndPage() {
	req := SearchRequest{
		Filters: []FilterGroup{{"status": {Mode: ModeEqual, Value: "OPEN"}}},
		Offset:  5,
		Limit:   5,
		OrderBy: OrderBy{{Field: "priority", Direction: SortDesc}},
		Fields:  []string{"title", "assignee.email"},
	}
	_, err := s.svc.GetAll(context.Background(), req)
	s.Require().NoError(err)

	want := Predicate{"OR": []any{Predicate{"status": map[string]any{"contains": "OPEN", "mode": "insensitive"}}}}
	s.Equal(want, s.store.aggArgs.Where)
	s.Equal(want, s.store.manyArgs.Where)
	s.Equal(5, s.store.manyArgs.Skip)
	s.Equal(5, s.store.manyArgs.Take)
	s.Equal(Selection{"title": true, "assignee": map[string]any{"select": map[string]any{"email": true}}}, s.store.manyArgs.Select)
	s.Equal(OrderBy{{Field: "priority", Direction: SortDesc}}, s.store.manyArgs.OrderBy)
}

func (s *ServiceTestSuite) TestGetAllRejectsBadRequestsBeforeStoreIO() {
	bad := []SearchRequest{
		{Filters: []FilterGroup{{"status": {Mode: "FOO", Value: "x"}}}},
		{Filters: []FilterGroup{{"colour": {Mode: ModeEqual, Value: "x"}}}},
		{OrderBy: OrderBy{{Field: "colour", Direction: SortAsc}}},
		{OrderBy: OrderBy{{Field: "assignee", Direction: SortAsc}}},
		{Fields: []string{"assignee.colour"}},
		{Include: []string{"title"}},
		{Offset: -1},
	}
	for _, req := range bad {
		_, err := s.svc.GetAll(context.Background(), req)
		s.Error(err)
	}
	s.Empty(s.store.calls)
}

func (s *ServiceTestSuite) TestGetAllStoreErrorPassesThrough() {
	boom := errors.New("connection reset")
	s.store.err = boom

	_, err := s.svc.GetAll(context.Background(), SearchRequest{})
	s.ErrorIs(err, boom)
}

func (s *ServiceTestSuite) TestCount() {
	s.store.count = 7
	n, err := s.svc.Count(context.Background(), []FilterGroup{{"open": {Mode: ModeEqual, Value: true}}})
	s.Require().NoError(err)
	s.Equal(int64(7), n)
	s.Equal([]string{"aggregate"}, s.store.calls)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func TestNewServiceUnknownEntity(t *testing.T) {
	_, err := NewService(testRegistry(t), "Ghost", &spyStore{})
	assert.True(t, IsUnknownEntity(err))

	_, err = NewService(testRegistry(t), "Ticket", nil)
	assert.True(t, IsValidation(err))
}

func TestServiceUnsupportedModeNeverReachesStore(t *testing.T) {
	store := &spyStore{}
	svc, err := NewService(testRegistry(t), "Ticket", store)
	require.NoError(t, err)

	_, err = svc.GetAll(context.Background(), SearchRequest{
		Filters: []FilterGroup{{"status": {Mode: "FOO", Value: "OPEN"}}},
	})
	assert.True(t, IsUnsupportedFilterMode(err))
	assert.Empty(t, store.calls)
}

func TestServiceDefaultsOverride(t *testing.T) {
	store := &spyStore{}
	svc, err := NewService(testRegistry(t), "User", store,
		WithDefaults(SearchDefaults{Limit: 50, Direction: SortDesc, OrderField: "createdAt"}))
	require.NoError(t, err)

	args, err := svc.Compile(SearchRequest{Fields: []string{}})
	require.NoError(t, err)
	assert.Equal(t, 50, args.Take)
	assert.Equal(t, OrderBy{{Field: "createdAt", Direction: SortDesc}}, args.OrderBy)
	assert.Nil(t, args.Select)
	assert.Empty(t, store.calls)
}
