// Package v1 exposes the chat service over HTTP.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/lineai/internal/profile"
	"github.com/hrygo/lineai/plugin/ai/cache"
	"github.com/hrygo/lineai/plugin/ai/metrics"
	"github.com/hrygo/lineai/server/chat"
)

// MetricsSource provides a metrics snapshot.
type MetricsSource interface {
	Snapshot() *metrics.Snapshot
}

// CacheStatsSource provides media cache statistics.
type CacheStatsSource interface {
	CacheStats() cache.Stats
}

type APIV1Service struct {
	Profile     *profile.Profile
	ChatService *chat.Service
	Metrics     MetricsSource
	MediaCache  CacheStatsSource
}

func NewAPIV1Service(profile *profile.Profile, chatService *chat.Service, metricsSource MetricsSource, mediaCache CacheStatsSource) *APIV1Service {
	return &APIV1Service{
		Profile:     profile,
		ChatService: chatService,
		Metrics:     metricsSource,
		MediaCache:  mediaCache,
	}
}

// NewEcho returns an Echo instance with the service's routes registered.
func (s *APIV1Service) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	s.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the HTTP routes with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Healthz)

	g := e.Group("/api/v1")
	g.POST("/messages", s.CreateMessage)
	g.GET("/sessions", s.GetSessionStats)
	g.GET("/sessions/:userID/summary", s.GetSessionSummary)
	g.DELETE("/sessions/:userID", s.DeleteSession)
	g.GET("/metrics", s.GetMetrics)
}

// Healthz reports liveness.
// GET /healthz
func (s *APIV1Service) Healthz(c echo.Context) error {
	version := ""
	if s.Profile != nil {
		version = s.Profile.Version
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
