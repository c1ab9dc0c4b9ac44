package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

// heartbeatInterval keeps idle streams open through proxies.
var heartbeatInterval = 25 * time.Second

// streamRecords serves a table's change feed as server-sent events. EventSource
// clients cannot set headers, so the token may also come as a query param.
func (h *handler) streamRecords(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	tenant, err := h.auth.TenantFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	table := c.Param("table")
	if !h.tables.Has(table) {
		return c.String(http.StatusNotFound, "unknown table")
	}
	filter, err := domain.FilterFromQuery(c.QueryParams(), "token")
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if h.changes == nil {
		return c.String(http.StatusServiceUnavailable, "realtime feed unavailable")
	}

	ctx := c.Request().Context()
	sub, err := h.changes.Subscribe(ctx, tenant, table, filter)
	if err != nil {
		h.logger.WithError(err).WithField("table", table).Error("subscribe")
		return c.String(http.StatusInternalServerError, "subscribe failed")
	}
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(consts.SSECommentPrefix + " connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := w.Write([]byte(consts.SSECommentPrefix + " ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := sonic.Marshal(ev)
			if err != nil {
				h.logger.WithError(err).Error("encode change event")
				continue
			}
			if _, err := w.Write([]byte(consts.SSEDataPrefix)); err != nil {
				return nil
			}
			if _, err := w.Write(data); err != nil {
				return nil
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
