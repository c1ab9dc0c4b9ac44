package storage

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

var partitionRE = regexp.MustCompile(`PartitionKey eq '([^']*)'`)

// fakeTable keeps entities as property maps keyed by partition and row.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]map[string]map[string]any
	filters  []string
	lastOpts *aztables.UpdateEntityOptions
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]map[string]any{}}
}

func notFound() error { return &azcore.ResponseError{StatusCode: 404, ErrorCode: "ResourceNotFound"} }

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, *o.Filter)
	m := partitionRE.FindStringSubmatch(*o.Filter)
	var ents [][]byte
	if m != nil {
		for _, props := range f.rows[m[1]] {
			b, _ := sonic.Marshal(props)
			ents = append(ents, b)
		}
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return aztables.ListEntitiesResponse{Entities: ents}, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, notFound()
	}
	b, _ := sonic.Marshal(props)
	return aztables.GetEntityResponse{Value: b}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	var props map[string]any
	if err := sonic.Unmarshal(entity, &props); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	pk, rk := props["PartitionKey"].(string), props["RowKey"].(string)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; ok {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: 409, ErrorCode: "EntityAlreadyExists"}
	}
	if f.rows[pk] == nil {
		f.rows[pk] = map[string]map[string]any{}
	}
	f.rows[pk][rk] = props
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	var props map[string]any
	if err := sonic.Unmarshal(entity, &props); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	pk, rk := props["PartitionKey"].(string), props["RowKey"].(string)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = o
	cur, ok := f.rows[pk][rk]
	if !ok {
		return aztables.UpdateEntityResponse{}, notFound()
	}
	for k, v := range props {
		cur[k] = v
	}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.DeleteEntityResponse{}, notFound()
	}
	delete(f.rows[pk], rk)
	return aztables.DeleteEntityResponse{}, nil
}

func newTestTables() (*Tables, *fakeTable) {
	ft := newFakeTable()
	return newTables(func(string) entityClient { return ft }), ft
}

func ptrString(s string) *string { return &s }

func TestTablesRoundTrip(t *testing.T) {
	tables, ft := newTestTables()
	ctx := context.Background()
	p := tables.ForTenant("org1")

	in := domain.Task{ID: "t1", Title: "Ship", Status: "todo", ProjectID: "p1", AssigneeID: ptrString("u1"), Rank: "H"}
	got, err := p.InsertOne(ctx, "issues", in)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got.Title != "Ship" || got.Assignee() != "u1" || got.Rank != "h" {
		t.Fatalf("unexpected inserted record: %#v", got)
	}
	if _, err := p.InsertOne(ctx, "issues", in); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err = p.UpdateOne(ctx, "issues", "t1", domain.Fields{domain.FieldAssigneeID: nil, domain.FieldStatus: "done"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.AssigneeID != nil || got.Status != "done" || got.Title != "Ship" {
		t.Fatalf("unexpected updated record: %#v", got)
	}
	if ft.lastOpts == nil || ft.lastOpts.UpdateMode != aztables.UpdateModeMerge || ft.lastOpts.IfMatch == nil || *ft.lastOpts.IfMatch != azcore.ETagAny {
		t.Fatalf("expected merge update with ETagAny, got %#v", ft.lastOpts)
	}

	tasks, err := p.FetchMany(ctx, "issues", domain.Filter{domain.FieldProjectID: "p1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected fetch result: %#v", tasks)
	}
	other, err := tables.ForTenant("org2").FetchMany(ctx, "issues", nil)
	if err != nil || len(other) != 0 {
		t.Fatalf("tenant isolation broken: %#v %v", other, err)
	}

	if err := p.DeleteOne(ctx, "issues", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.GetOne(ctx, "issues", "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.UpdateOne(ctx, "issues", "t1", domain.Fields{domain.FieldStatus: "todo"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update of missing record, got %v", err)
	}
}

func TestTablesRejectsBadInput(t *testing.T) {
	tables, _ := newTestTables()
	ctx := context.Background()
	p := tables.ForTenant("org1")
	if _, err := p.FetchMany(ctx, "bad-name!", nil); err == nil {
		t.Fatalf("expected invalid table error")
	}
	if _, err := p.FetchMany(ctx, "issues", domain.Filter{"colour": "red"}); !errors.Is(err, domain.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if _, err := p.UpdateOne(ctx, "issues", "t1", domain.Fields{"colour": "red"}); !errors.Is(err, domain.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if _, err := p.InsertOne(ctx, "issues", domain.Task{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestODataFilter(t *testing.T) {
	got := odataFilter("o'brien", domain.Filter{domain.FieldStatus: "todo", domain.FieldProjectID: "p1"})
	want := "PartitionKey eq 'o''brien' and ProjectID eq 'p1' and Status eq 'todo'"
	if got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}
	if got := odataFilter("t", domain.Filter{domain.FieldAssigneeID: ""}); got != "PartitionKey eq 't'" {
		t.Fatalf("unexpected unassigned filter: %s", got)
	}
}

func TestDecodeEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"org1","RowKey":"t1","Timestamp":"2025-03-01T10:00:00Z","Title":"Ship","Status":"todo","AssigneeID":"","Done":true,"Rank":"h"}`)
	task, err := decodeEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != "t1" || task.AssigneeID != nil || !task.Done || task.Rank != "h" {
		t.Fatalf("unexpected task: %#v", task)
	}
	if !task.UpdatedAt.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", task.UpdatedAt)
	}
}

func TestMapError(t *testing.T) {
	if err := mapError(&azcore.ResponseError{StatusCode: 404}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mapError(&azcore.ResponseError{StatusCode: 409}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	boom := errors.New("boom")
	if err := mapError(boom); err != boom {
		t.Fatalf("expected passthrough, got %v", err)
	}
}
