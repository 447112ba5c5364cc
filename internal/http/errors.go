package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/ingest"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// statusFor maps a device or ingestion error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, device.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, device.ErrUnknownRoom), errors.Is(err, device.ErrUnknownArea):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrNoRoomsFound),
		errors.Is(err, ingest.ErrRoomsNotRecognized),
		errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrUnreadableDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, roster.ErrUnknownStatus),
		errors.Is(err, roster.ErrInvalidIdentity),
		errors.Is(err, roster.ErrUnknownReportKind):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrQueueFull),
		errors.Is(err, device.ErrNotStarted),
		errors.Is(err, device.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail converts err to an HTTP error. Server errors are logged and their
// detail is not echoed back.
func (s *Server) fail(c echo.Context, op string, err error) error {
	code := statusFor(err)
	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, op+" failed", zap.Int("status", code), zap.Error(err))
		if code == http.StatusInternalServerError {
			return echo.NewHTTPError(code, "internal error")
		}
		return echo.NewHTTPError(code, err.Error())
	}
	s.logger.Debug(ctx, op+" rejected", zap.Int("status", code), zap.Error(err))
	return echo.NewHTTPError(code, err.Error())
}
