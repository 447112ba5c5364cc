package http

import (
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := s.device.Login(c.Request().Context(), req.Name, req.Role); err != nil {
		return s.fail(c, "login", err)
	}
	return c.JSON(http.StatusOK, s.session())
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.device.Logout(c.Request().Context()); err != nil {
		return s.fail(c, "logout", err)
	}
	return c.JSON(http.StatusOK, s.session())
}

func (s *Server) handleWhoami(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session())
}

func (s *Server) session() SessionResponse {
	id := s.device.Identity()
	return SessionResponse{
		DeviceID: s.device.DeviceID(),
		LoggedIn: !id.IsZero(),
		Identity: id,
	}
}

// handleListRooms returns the merged roster, optionally limited to one floor
// or status.
func (s *Server) handleListRooms(c echo.Context) error {
	floor := 0
	if q := c.QueryParam("floor"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "floor must be a positive number")
		}
		floor = n
	}
	var status roster.Status
	if q := c.QueryParam("status"); q != "" {
		st, err := roster.ParseStatus(q)
		if err != nil {
			return s.fail(c, "list rooms", err)
		}
		status = st
	}

	r := s.device.Roster()
	rooms := make([]roster.Room, 0, len(r.Rooms))
	for _, room := range r.Rooms {
		if floor != 0 && room.Floor != floor {
			continue
		}
		if status != "" && room.Status != status {
			continue
		}
		rooms = append(rooms, room)
	}
	return c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms, ResetID: r.ResetID})
}

func (s *Server) handleGetRoom(c echo.Context) error {
	return s.roomReply(c, "get room")
}

func (s *Server) handleSetStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	status, err := roster.ParseStatus(req.Status)
	if err != nil {
		return s.fail(c, "set status", err)
	}
	if err := s.device.SetStatus(c.Request().Context(), c.Param("number"), status); err != nil {
		return s.fail(c, "set status", err)
	}
	return s.roomReply(c, "set status")
}

func (s *Server) handleSaveRemark(c echo.Context) error {
	var req RemarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.device.SaveRemark(c.Request().Context(), c.Param("number"), req.Remark); err != nil {
		return s.fail(c, "save remark", err)
	}
	return s.roomReply(c, "save remark")
}

func (s *Server) handleToggleClaim(c echo.Context) error {
	if err := s.device.ToggleClaim(c.Request().Context(), c.Param("number")); err != nil {
		return s.fail(c, "toggle claim", err)
	}
	return s.roomReply(c, "toggle claim")
}

func (s *Server) handleBeginEdit(c echo.Context) error {
	if err := s.device.BeginEdit(c.Request().Context(), c.Param("number")); err != nil {
		return s.fail(c, "begin edit", err)
	}
	return s.roomReply(c, "begin edit")
}

func (s *Server) handleCancelEdit(c echo.Context) error {
	if err := s.device.CancelEdit(c.Request().Context(), c.Param("number")); err != nil {
		return s.fail(c, "cancel edit", err)
	}
	return s.roomReply(c, "cancel edit")
}

// roomReply answers with the current local view of the room in the path.
func (s *Server) roomReply(c echo.Context, op string) error {
	number := c.Param("number")
	room, err := s.device.Room(number)
	if err != nil {
		return s.fail(c, op, err)
	}
	return c.JSON(http.StatusOK, RoomResponse{Room: room, Leased: s.device.Leased(number)})
}
