package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func newStreamHandler(changes Changes) *handler {
	logger, _ := test.NewNullLogger()
	return &handler{tables: NewTableSet("issues"), changes: changes, auth: mockAuth{}, logger: logger}
}

func streamContext(ctx context.Context, target string) (echo.Context, flushRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := flushRecorder{httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	c.SetParamNames("table")
	c.SetParamValues("issues")
	return c, rec
}

func TestStreamRecordsWritesEvents(t *testing.T) {
	changes := newMockChanges()
	h := newStreamHandler(changes)

	ctx, cancel := context.WithCancel(context.Background())
	c, rec := streamContext(ctx, "/api/tables/issues/stream?token=good.token.here&status=todo")

	errCh := make(chan error, 1)
	go func() { errCh <- h.streamRecords(c) }()

	var sub *mockSub
	select {
	case sub = <-changes.subs:
	case <-time.After(time.Second):
		t.Fatal("handler did not subscribe")
	}
	ev := domain.ChangeEvent{ID: "e1", Table: "issues", Type: domain.EventUpdate, Record: domain.Task{ID: "a", Status: "todo"}, Timestamp: 7}
	sub.events <- ev
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	select {
	case <-sub.closed:
	default:
		t.Fatal("subscription not closed")
	}
	if changes.filter[domain.FieldStatus] != "todo" {
		t.Fatalf("filter not passed: %#v", changes.filter)
	}
	if _, ok := changes.filter["token"]; ok {
		t.Fatal("token leaked into filter")
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	data, _ := sonic.Marshal(ev)
	body := rec.Body.String()
	if !strings.HasPrefix(body, consts.SSECommentPrefix+" connected\n\n") {
		t.Fatalf("missing connected comment: %q", body)
	}
	if !strings.Contains(body, consts.SSEDataPrefix+string(data)+"\n\n") {
		t.Fatalf("event not written: %q", body)
	}
}

func TestStreamRecordsHeartbeat(t *testing.T) {
	prev := heartbeatInterval
	heartbeatInterval = 20 * time.Millisecond
	defer func() { heartbeatInterval = prev }()

	changes := newMockChanges()
	h := newStreamHandler(changes)
	ctx, cancel := context.WithCancel(context.Background())
	c, rec := streamContext(ctx, "/api/tables/issues/stream")
	c.Request().Header.Set(echo.HeaderAuthorization, "Bearer good.token.here")

	errCh := make(chan error, 1)
	go func() { errCh <- h.streamRecords(c) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), consts.SSECommentPrefix+" ping\n\n") {
		t.Fatalf("expected heartbeat, got %q", rec.Body.String())
	}
}

func TestStreamRecordsRejects(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		changes Changes
		want    int
	}{
		{"no auth", "/api/tables/issues/stream", newMockChanges(), http.StatusUnauthorized},
		{"bad filter", "/api/tables/issues/stream?token=good.token.here&title=x", newMockChanges(), http.StatusBadRequest},
		{"no feed", "/api/tables/issues/stream?token=good.token.here", nil, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := newStreamHandler(tc.changes)
		c, rec := streamContext(context.Background(), tc.target)
		if err := h.streamRecords(c); err != nil {
			t.Fatalf("%s: handler error: %v", tc.name, err)
		}
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}
