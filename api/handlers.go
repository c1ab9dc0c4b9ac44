package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

const (
	maxBodySize    = 64 << 10
	publishTimeout = 5 * time.Second

	routeRecords = "/api/tables/:table/records"
	routeRecord  = "/api/tables/:table/records/:id"
	routeStream  = "/api/tables/:table/stream"
)

// TableSet lists the tables the API serves.
type TableSet map[string]struct{}

// NewTableSet builds a TableSet from names.
func NewTableSet(names ...string) TableSet {
	ts := make(TableSet, len(names))
	for _, n := range names {
		ts[n] = struct{}{}
	}
	return ts
}

// Has reports whether the API serves table.
func (ts TableSet) Has(table string) bool {
	_, ok := ts[table]
	return ok
}

type handler struct {
	tables  TableSet
	store   Storage
	changes Changes
	auth    Authenticator
	deduper Deduper
	logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil.
func Register(e *echo.Echo, tables TableSet, store Storage, changes Changes, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handler{tables: tables, store: store, changes: changes, auth: auth, deduper: deduper, logger: logger}
	e.GET(routeRecords, h.getRecords)
	e.POST(routeRecords, h.postRecord)
	e.PATCH(routeRecord, h.patchRecord)
	e.DELETE(routeRecord, h.deleteRecord)
	e.GET(routeStream, h.streamRecords)
	e.GET("/healthz", healthz)
}

type recordsResponse struct {
	Records []domain.Task `json:"records"`
}

type createRequest struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Priority   string  `json:"priority"`
	ProjectID  string  `json:"projectId"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assigneeId"`
	Done       bool    `json:"done"`
	Rank       string  `json:"rank"`
	// Ignored; the store stamps the write time.
	UpdatedAt *time.Time `json:"updatedAt"`
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// begin authenticates the request and checks the table. It writes the
// error response itself and returns ok=false when the request must stop.
func (h *handler) begin(c echo.Context, m *requestMetrics) (tenant, table string, ok bool, err error) {
	table = c.Param("table")
	authStart := time.Now()
	tenant, authErr := h.auth.TenantFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		m.SetErrorStage("auth")
		return "", "", false, c.String(http.StatusUnauthorized, authErr.Error())
	}
	if !h.tables.Has(table) {
		m.SetErrorStage("table")
		return "", "", false, c.String(http.StatusNotFound, "unknown table")
	}
	return tenant, table, true, nil
}

func (h *handler) instrument(c echo.Context, route string) (*requestMetrics, context.Context) {
	m, ctx := newRequestMetrics(c.Request().Context(), h.logger, route, c.Param("table"))
	c.SetRequest(c.Request().WithContext(ctx))
	return m, ctx
}

func (h *handler) getRecords(c echo.Context) (err error) {
	m, ctx := h.instrument(c, routeRecords)
	defer func() { m.Log(c.Response().Status, err) }()

	tenant, table, ok, err := h.begin(c, m)
	if !ok {
		return err
	}
	filter, ferr := domain.FilterFromQuery(c.QueryParams())
	if ferr != nil {
		m.SetErrorStage("filter")
		return c.String(http.StatusBadRequest, ferr.Error())
	}

	start := time.Now()
	tasks, ferr := h.store.ForTenant(tenant).FetchMany(ctx, table, filter)
	m.ObserveStore(time.Since(start))
	if ferr != nil {
		m.SetErrorStage("storage")
		h.logger.WithError(ferr).WithField("table", table).Error("fetch records")
		return c.String(http.StatusInternalServerError, ferr.Error())
	}
	domain.SortByRank(tasks)
	m.SetRecords(len(tasks))
	return c.JSON(http.StatusOK, recordsResponse{Records: tasks})
}

func (h *handler) postRecord(c echo.Context) (err error) {
	m, ctx := h.instrument(c, routeRecords)
	defer func() { m.Log(c.Response().Status, err) }()

	tenant, table, ok, err := h.begin(c, m)
	if !ok {
		return err
	}
	var req createRequest
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if derr := dec.Decode(&req); derr != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	rec := domain.Task{
		ID:         req.ID,
		Title:      req.Title,
		Priority:   req.Priority,
		ProjectID:  req.ProjectID,
		Status:     req.Status,
		AssigneeID: req.AssigneeID,
		Done:       req.Done,
		Rank:       req.Rank,
	}

	start := time.Now()
	out, serr := h.store.ForTenant(tenant).InsertOne(ctx, table, rec)
	m.ObserveStore(time.Since(start))
	if serr != nil {
		if errors.Is(serr, domain.ErrConflict) {
			m.SetErrorStage("conflict")
			return c.String(http.StatusConflict, serr.Error())
		}
		m.SetErrorStage("storage")
		h.logger.WithError(serr).WithField("table", table).Error("insert record")
		return c.String(http.StatusInternalServerError, serr.Error())
	}
	h.publish(tenant, domain.NewChangeEvent(table, domain.EventInsert, out))
	m.SetRecords(1)
	return c.JSON(http.StatusCreated, out)
}

func (h *handler) patchRecord(c echo.Context) (err error) {
	m, ctx := h.instrument(c, routeRecord)
	defer func() { m.Log(c.Response().Status, err) }()

	tenant, table, ok, err := h.begin(c, m)
	if !ok {
		return err
	}
	id := c.Param("id")

	var fields domain.Fields
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	if derr := dec.Decode(&fields); derr != nil || len(fields) == 0 {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if verr := fields.Validate(); verr != nil {
		m.SetErrorStage("validate")
		return c.String(http.StatusBadRequest, verr.Error())
	}

	backend := h.store.ForTenant(tenant)
	key := c.Request().Header.Get(consts.HeaderIdempotencyKey)
	if key != "" && h.deduper != nil {
		added, derr := h.deduper.Add(ctx, tenant, table+":"+id+":"+key)
		if derr != nil {
			h.logger.WithError(derr).Warn("idempotency check failed")
		} else if !added {
			cur, gerr := backend.GetOne(ctx, table, id)
			if gerr != nil {
				return h.storeError(c, m, gerr)
			}
			c.Response().Header().Set(consts.HeaderReplayed, "true")
			return c.JSON(http.StatusOK, cur)
		}
	}

	start := time.Now()
	out, uerr := backend.UpdateOne(ctx, table, id, fields)
	m.ObserveStore(time.Since(start))
	if uerr != nil {
		if key != "" && h.deduper != nil {
			if rerr := h.deduper.Remove(ctx, tenant, table+":"+id+":"+key); rerr != nil {
				h.logger.WithError(rerr).Warn("idempotency key rollback failed")
			}
		}
		return h.storeError(c, m, uerr)
	}
	h.publish(tenant, domain.NewChangeEvent(table, domain.EventUpdate, out))
	m.SetRecords(1)
	return c.JSON(http.StatusOK, out)
}

func (h *handler) deleteRecord(c echo.Context) (err error) {
	m, ctx := h.instrument(c, routeRecord)
	defer func() { m.Log(c.Response().Status, err) }()

	tenant, table, ok, err := h.begin(c, m)
	if !ok {
		return err
	}
	id := c.Param("id")
	start := time.Now()
	derr := h.store.ForTenant(tenant).DeleteOne(ctx, table, id)
	m.ObserveStore(time.Since(start))
	if derr != nil {
		return h.storeError(c, m, derr)
	}
	h.publish(tenant, domain.NewChangeEvent(table, domain.EventDelete, domain.Task{ID: id}))
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) storeError(c echo.Context, m *requestMetrics, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		m.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, "record not found")
	}
	m.SetErrorStage("storage")
	h.logger.WithError(err).Error("storage request failed")
	return c.String(http.StatusInternalServerError, err.Error())
}

// publish notifies subscribers. A failed publish does not fail the write.
func (h *handler) publish(tenant string, ev domain.ChangeEvent) {
	if h.changes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.changes.Publish(ctx, tenant, ev); err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"table": ev.Table, "id": ev.Record.ID, "type": ev.Type}).Error("publish change")
	}
}
