// Package server is the HTTP ingress for change capture: CRUD and workflow
// handlers post their successful mutations here.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Capturer records mutations.
type Capturer interface {
	Capture(ctx context.Context, m capture.Mutation) (rule.ChangeRecord, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChangeRequest is the body of POST /api/v1/changes.
type ChangeRequest struct {
	CollName    string       `json:"collName"`
	TriggerType string       `json:"triggerType"`
	Actor       rule.Actor   `json:"actor"`
	TenantID    string       `json:"tenantId"`
	OldDoc      doc.Document `json:"oldDoc"`
	NewDoc      doc.Document `json:"newDoc"`
}

func (r ChangeRequest) mutation() capture.Mutation {
	return capture.Mutation{
		Collection: r.CollName,
		Kind:       rule.TriggerKind(r.TriggerType),
		Actor:      r.Actor,
		TenantID:   r.TenantID,
		OldDoc:     r.OldDoc,
		NewDoc:     r.NewDoc,
	}
}

// Server serves the capture API.
type Server struct {
	capture Capturer
	health  Pinger
	log     *zap.Logger
	echo    *echo.Echo
}

// New builds the server and its routes. health may be nil.
func New(c Capturer, health Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{capture: c, health: health, log: log.Named("server")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/healthz", s.HealthCheck)
	api := e.Group("/api/v1")
	api.POST("/changes", s.CaptureChange)

	s.echo = e
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) HealthCheck(c echo.Context) error {
	if s.health != nil {
		if err := s.health.Ping(c.Request().Context()); err != nil {
			s.log.Error("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "store unreachable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// CaptureChange records one mutation and schedules its synchronization. The
// response never waits for synchronization.
func (s *Server) CaptureChange(c echo.Context) error {
	var req ChangeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	rec, err := s.capture.Capture(c.Request().Context(), req.mutation())
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, rec)
	case errors.Is(err, capture.ErrInvalidMutation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, capture.ErrDispatch):
		// The record is stored; a replay can dispatch it later.
		s.log.Warn("change record stored but not dispatched",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return c.JSON(http.StatusAccepted, rec)
	default:
		s.log.Error("capture failed",
			zap.String("collection", req.CollName),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to record change",
		})
	}
}
