package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/labstack/echo/v4"
)

// handleUploadReport ingests the multipart "file" field as a report of the
// kind in the path.
func (s *Server) handleUploadReport(c echo.Context) error {
	kind, err := roster.ParseReportKind(c.Param("kind"))
	if err != nil {
		return s.fail(c, "upload report", err)
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "report exceeds upload limit")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer f.Close()

	res, err := s.device.UploadReport(req.Context(), device.Upload{
		Kind:        kind,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        f,
	})
	if err != nil {
		return s.fail(c, "upload report", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleResetRoster(c echo.Context) error {
	id, err := s.device.ResetRoster(c.Request().Context())
	if err != nil {
		return s.fail(c, "reset roster", err)
	}
	return c.JSON(http.StatusOK, ResetResponse{ResetID: id})
}

func (s *Server) handleExpireReports(c echo.Context) error {
	res, err := s.device.ExpireReports(c.Request().Context())
	if err != nil {
		return s.fail(c, "expire reports", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSync(c echo.Context) error {
	state := s.device.SyncState()
	return c.JSON(http.StatusOK, SyncResponse{SyncState: state, Synced: state.Synced()})
}

// handleHistory lists journal entries, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "activity journal is disabled")
	}
	q := journal.Query{Room: c.QueryParam("room")}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative number")
		}
		q.Limit = n
	}
	entries, err := s.history.Query(c.Request().Context(), q)
	if err != nil {
		return s.fail(c, "query history", err)
	}
	return c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}
