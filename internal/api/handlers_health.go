// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	hub     HeatmapHub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, hub HeatmapHub) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		hub:     hub,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.hub != nil {
		resp["subscribers"] = h.hub.SubscriberCount()
	}
	return c.JSON(http.StatusOK, resp)
}
