package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleGetNote(c echo.Context) error {
	return c.JSON(http.StatusOK, s.device.Note())
}

func (s *Server) handleSaveNote(c echo.Context) error {
	var req NoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.device.SaveNote(c.Request().Context(), req.Text); err != nil {
		return s.fail(c, "save note", err)
	}
	return c.JSON(http.StatusOK, s.device.Note())
}

func (s *Server) handleListAreas(c echo.Context) error {
	return c.JSON(http.StatusOK, AreasResponse{Areas: s.device.Areas()})
}

func (s *Server) handleAreaDone(c echo.Context) error {
	if err := s.device.MarkAreaDone(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, "mark area done", err)
	}
	return c.JSON(http.StatusOK, AreasResponse{Areas: s.device.Areas()})
}

func (s *Server) handleAreaClaim(c echo.Context) error {
	if err := s.device.ToggleAreaClaim(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, "toggle area claim", err)
	}
	return c.JSON(http.StatusOK, AreasResponse{Areas: s.device.Areas()})
}
