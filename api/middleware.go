package api

import (
	"compress/gzip"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DecompressRequests inflates gzip request bodies with echo's Decompress
// middleware and answers a body that is not valid gzip with 400.
func DecompressRequests() echo.MiddlewareFunc {
	inflate := middleware.Decompress()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := inflate(next)
		return func(c echo.Context) error {
			err := h(c)
			if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			return err
		}
	}
}
