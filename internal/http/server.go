// Package http provides the local HTTP API of a roomsync device.
//
// The API is the surface a tablet UI or rsctl drives: it logs a person in on
// this device, exposes the merged roster view, forwards status, remark and
// claim changes to the device session, accepts report uploads and streams
// change events over SSE.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Device is the device session the API drives.
type Device interface {
	DeviceID() string
	Definition() *roster.Definition
	Loaded() bool

	Login(ctx context.Context, name string, role roster.Role) (roster.Identity, error)
	Logout(ctx context.Context) error
	Identity() roster.Identity

	Room(number string) (roster.Room, error)
	Roster() *roster.Roster
	Leased(number string) []string
	SetStatus(ctx context.Context, number string, status roster.Status) error
	SaveRemark(ctx context.Context, number, text string) error
	ToggleClaim(ctx context.Context, number string) error
	BeginEdit(ctx context.Context, number string) error
	CancelEdit(ctx context.Context, number string) error

	UploadReport(ctx context.Context, u device.Upload) (device.ReportResult, error)
	ResetRoster(ctx context.Context) (string, error)
	ExpireReports(ctx context.Context) (device.ExpiryResult, error)
	Counters() roster.Counters

	Note() roster.Note
	SaveNote(ctx context.Context, text string) error
	Areas() []roster.Area
	MarkAreaDone(ctx context.Context, id string) error
	ToggleAreaClaim(ctx context.Context, id string) error

	SyncState() device.SyncState
	Watch(ctx context.Context) <-chan device.Event
}

// History answers activity journal queries.
type History interface {
	Query(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Server provides the HTTP endpoints of one device.
type Server struct {
	echo    *echo.Echo
	device  Device
	history History
	metrics *HTTPMetrics
	logger  *logging.Logger
	config  *Config
	now     func() time.Time

	// closing ends event streams on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps report uploads.
	MaxUploadBytes int64
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8470,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  20 << 20,
		Heartbeat:       30 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves GET /api/v1/history from h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics records request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the clock used for vacancy figures.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new HTTP server.
func NewServer(dev Device, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if dev == nil {
		return nil, fmt.Errorf("device cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		device:  dev,
		logger:  logger,
		config:  cfg,
		now:     time.Now,
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}

	s.registerRoutes()
	return s, nil
}

// requestLogger carries the request id and device id into the request
// context and logs every request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		ctx = logging.WithDeviceID(ctx, s.device.DeviceID())
		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/session", s.handleLogin)
	v1.DELETE("/session", s.handleLogout)
	v1.GET("/session", s.handleWhoami)

	v1.GET("/rooms", s.handleListRooms)
	v1.GET("/rooms/:number", s.handleGetRoom)
	v1.PUT("/rooms/:number/status", s.handleSetStatus)
	v1.PUT("/rooms/:number/remark", s.handleSaveRemark)
	v1.POST("/rooms/:number/claim", s.handleToggleClaim)
	v1.POST("/rooms/:number/edit", s.handleBeginEdit)
	v1.DELETE("/rooms/:number/edit", s.handleCancelEdit)

	v1.POST("/reports/expire", s.handleExpireReports)
	v1.POST("/reports/:kind", s.handleUploadReport)
	v1.POST("/roster/reset", s.handleResetRoster)

	v1.GET("/counters", s.handleCounters)
	v1.GET("/scoreboard", s.handleScoreboard)
	v1.GET("/vacancies", s.handleVacancies)

	v1.GET("/notes", s.handleGetNote)
	v1.PUT("/notes", s.handleSaveNote)
	v1.GET("/areas", s.handleListAreas)
	v1.POST("/areas/:id/done", s.handleAreaDone)
	v1.POST("/areas/:id/claim", s.handleAreaClaim)

	v1.GET("/sync", s.handleSync)
	v1.GET("/history", s.handleHistory)
	s.echo.GET(eventsRoute, s.handleEvents)
}

// handleHealth reports liveness and whether the first snapshot has arrived.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:   "ok",
		DeviceID: s.device.DeviceID(),
		Loaded:   s.device.Loaded(),
	}
	if !resp.Loaded {
		resp.Status = "starting"
	}
	return c.JSON(http.StatusOK, resp)
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(ctx, "starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
