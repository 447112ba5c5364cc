package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const eventsRoute = "/api/v1/events"

// handleEvents streams device change events via Server-Sent Events.
//
// Each event is sent as
//
//	event: rooms
//	data: {"type":"rooms","rooms":["602"],"at":"..."}
//
// The stream stays open until the client disconnects, the server shuts down
// or the device session closes.
func (s *Server) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	events := s.device.Watch(ctx)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	fmt.Fprintf(c.Response(), ": connected %s\n\n", s.device.DeviceID())
	c.Response().Flush()

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn(ctx, "encoding event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Response(), "event: %s\n", ev.Type)
			fmt.Fprintf(c.Response(), "data: %s\n\n", data)
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-s.closing:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
