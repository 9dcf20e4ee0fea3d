package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/lineai/plugin/ai/cache"
	"github.com/hrygo/lineai/plugin/ai/metrics"
)

// MetricsResponse represents the system metrics overview.
type MetricsResponse struct {
	*metrics.Snapshot
	SuccessRate float64      `json:"success_rate"`
	MediaCache  *cache.Stats `json:"media_cache,omitempty"`
}

// GetMetrics returns the in-memory metrics snapshot.
// GET /api/v1/metrics
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	if s.Metrics == nil {
		return errorJSON(c, http.StatusNotFound, "metrics disabled")
	}

	snap := s.Metrics.Snapshot()
	resp := MetricsResponse{Snapshot: snap, SuccessRate: 100}
	if snap.RequestCount > 0 {
		resp.SuccessRate = float64(snap.SuccessCount) / float64(snap.RequestCount) * 100
	}
	if s.MediaCache != nil {
		stats := s.MediaCache.CacheStats()
		resp.MediaCache = &stats
	}
	return c.JSON(http.StatusOK, resp)
}
