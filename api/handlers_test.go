package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
	"github.com/Qualiasolutions/qualia-erp-sub000/storage"
)

type mockBackend struct {
	mu         sync.Mutex
	records    map[string]domain.Task
	lastFilter domain.Filter
	updates    int
	err        error
}

func (m *mockBackend) FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Task{}
	for _, t := range m.records {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockBackend) GetOne(ctx context.Context, table, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockBackend) InsertOne(ctx context.Context, table string, rec domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return domain.Task{}, domain.ErrConflict
	}
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *mockBackend) UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.err != nil {
		return domain.Task{}, m.err
	}
	t, ok := m.records[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if err := t.Apply(fields); err != nil {
		return domain.Task{}, err
	}
	m.records[id] = t
	return t, nil
}

func (m *mockBackend) DeleteOne(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

type mockStore struct {
	backend *mockBackend
	tenants []string
}

func (m *mockStore) ForTenant(tenant string) storage.Backend {
	m.tenants = append(m.tenants, tenant)
	return m.backend
}

type mockSub struct {
	events chan domain.ChangeEvent
	closed chan struct{}
	once   sync.Once
}

func (s *mockSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *mockSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type mockChanges struct {
	mu        sync.Mutex
	published []domain.ChangeEvent
	subs      chan *mockSub
	filter    domain.Filter
}

func newMockChanges() *mockChanges {
	return &mockChanges{subs: make(chan *mockSub, 1)}
}

func (m *mockChanges) Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, ev)
	return nil
}

func (m *mockChanges) Subscribe(ctx context.Context, tenant, table string, filter domain.Filter) (domain.Subscription, error) {
	m.mu.Lock()
	m.filter = filter
	m.mu.Unlock()
	s := &mockSub{events: make(chan domain.ChangeEvent, 4), closed: make(chan struct{})}
	m.subs <- s
	return s, nil
}

func (m *mockChanges) events() []domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChangeEvent(nil), m.published...)
}

type mockAuth struct{}

func (mockAuth) TenantFromAuthHeader(h string) (string, error) {
	if h != "Bearer good.token.here" {
		return "", errBadAuthorization
	}
	return "org1", nil
}

func ptrString(s string) *string { return &s }

type testServer struct {
	e       *echo.Echo
	backend *mockBackend
	store   *mockStore
	changes *mockChanges
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	backend := &mockBackend{records: map[string]domain.Task{
		"a": {ID: "a", Title: "A", Status: "todo", ProjectID: "p1", Rank: "m", AssigneeID: ptrString("u1")},
		"b": {ID: "b", Title: "B", Status: "done", ProjectID: "p1", Rank: "c"},
		"c": {ID: "c", Title: "C", Status: "todo", ProjectID: "p2"},
	}}
	ts := &testServer{e: echo.New(), backend: backend, store: &mockStore{backend: backend}, changes: newMockChanges()}
	Register(ts.e, NewTableSet("issues"), ts.store, ts.changes, mockAuth{}, deduper, logger)
	return ts
}

func (ts *testServer) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer good.token.here")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func TestGetRecords(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/tables/issues/records?projectId=p1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp recordsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Records) != 2 || resp.Records[0].ID != "b" || resp.Records[1].ID != "a" {
		t.Fatalf("unexpected records: %#v", resp.Records)
	}
	if ts.backend.lastFilter[domain.FieldProjectID] != "p1" {
		t.Fatalf("filter not passed to store: %#v", ts.backend.lastFilter)
	}
	if len(ts.store.tenants) != 1 || ts.store.tenants[0] != "org1" {
		t.Fatalf("expected tenant org1, got %v", ts.store.tenants)
	}
}

func TestGetRecordsErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"unknown table", "/api/tables/users/records", nil, http.StatusNotFound},
		{"bad auth", "/api/tables/issues/records", map[string]string{echo.HeaderAuthorization: "Bearer nope"}, http.StatusUnauthorized},
		{"bad filter", "/api/tables/issues/records?title=x", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := ts.do(http.MethodGet, tc.target, "", tc.header); rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}

	ts.backend.err = errors.New("storage down")
	if rec := ts.do(http.MethodGet, "/api/tables/issues/records", "", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPostRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/tables/issues/records", `{"title":"New","status":"todo"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var out domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID == "" || out.Title != "New" {
		t.Fatalf("unexpected record: %#v", out)
	}
	evs := ts.changes.events()
	if len(evs) != 1 || evs[0].Type != domain.EventInsert || evs[0].Record.ID != out.ID || evs[0].Table != "issues" {
		t.Fatalf("unexpected published events: %#v", evs)
	}

	if rec := ts.do(http.MethodPost, "/api/tables/issues/records", `{"id":"a","title":"dup"}`, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/tables/issues/records", `{"title":"x","colour":"red"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestPatchRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPatch, "/api/tables/issues/records/a", `{"status":"done","assigneeId":null}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := ts.backend.records["a"]
	if got.Status != "done" || got.AssigneeID != nil {
		t.Fatalf("unexpected stored record: %#v", got)
	}
	evs := ts.changes.events()
	if len(evs) != 1 || evs[0].Type != domain.EventUpdate || evs[0].Record.Status != "done" {
		t.Fatalf("unexpected published events: %#v", evs)
	}

	cases := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"unknown field", "/api/tables/issues/records/a", `{"colour":"red"}`, http.StatusBadRequest},
		{"wrong type", "/api/tables/issues/records/a", `{"done":"yes"}`, http.StatusBadRequest},
		{"empty", "/api/tables/issues/records/a", `{}`, http.StatusBadRequest},
		{"missing", "/api/tables/issues/records/zzz", `{"status":"todo"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := ts.do(http.MethodPatch, tc.target, tc.body, nil); rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
	if n := len(ts.changes.events()); n != 1 {
		t.Fatalf("failed patches published events: %d", n)
	}
}

func TestPatchRecordIdempotencyKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ts := newTestServer(t, NewRedisDeduper(rc, time.Minute))
	hdr := map[string]string{consts.HeaderIdempotencyKey: "k1"}

	first := ts.do(http.MethodPatch, "/api/tables/issues/records/a", `{"status":"done"}`, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	second := ts.do(http.MethodPatch, "/api/tables/issues/records/a", `{"status":"done"}`, hdr)
	if second.Code != http.StatusOK || second.Header().Get(consts.HeaderReplayed) != "true" {
		t.Fatalf("expected replayed 200, got %d %v", second.Code, second.Header())
	}
	if ts.backend.updates != 1 {
		t.Fatalf("expected one store update, got %d", ts.backend.updates)
	}

	ts.backend.err = errors.New("storage down")
	hdr = map[string]string{consts.HeaderIdempotencyKey: "k2"}
	if rec := ts.do(http.MethodPatch, "/api/tables/issues/records/a", `{"status":"todo"}`, hdr); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	ts.backend.err = nil
	if rec := ts.do(http.MethodPatch, "/api/tables/issues/records/a", `{"status":"todo"}`, hdr); rec.Code != http.StatusOK || rec.Header().Get(consts.HeaderReplayed) != "" {
		t.Fatalf("expected retry after failure to run, got %d", rec.Code)
	}
	if ts.backend.records["a"].Status != "todo" {
		t.Fatalf("retry not applied")
	}
}

func TestDeleteRecord(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(http.MethodDelete, "/api/tables/issues/records/a", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	evs := ts.changes.events()
	if len(evs) != 1 || evs[0].Type != domain.EventDelete || evs[0].Record.ID != "a" {
		t.Fatalf("unexpected published events: %#v", evs)
	}
	if rec := ts.do(http.MethodDelete, "/api/tables/issues/records/a", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
