// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/karastat/heatmap/internal/heatmap"
	"github.com/karastat/heatmap/internal/models"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// HeatmapHandler serves the current heatmap and its live updates
type HeatmapHandler interface {
	HandleSnapshot(c echo.Context) error
	HandleSnapshotMsgpack(c echo.Context) error
	HandleEvents(c echo.Context) error
}

// LayoutHandler manages the keyboard diagrams
type LayoutHandler interface {
	HandleGetLayout(c echo.Context) error
	HandleUploadLayout(c echo.Context) error
	HandleSetActiveLayout(c echo.Context) error
	HandleRecentLayouts(c echo.Context) error
	HandleRenameLayout(c echo.Context) error
	HandleDeleteLayout(c echo.Context) error
	HandleDiagram(c echo.Context) error
	ActiveLayout() string
}

// HeatmapHub publishes heatmap batches. *heatmap.Hub satisfies it; tests
// substitute a hub over a static count source.
type HeatmapHub interface {
	Snapshot(ctx context.Context) ([]models.HeatmapRecord, error)
	Subscribe() *heatmap.Subscription
	Unsubscribe(id string)
	SubscriberCount() int
}

var _ HeatmapHub = (*heatmap.Hub)(nil)
