// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/karastat/heatmap/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store            storage.Store
	Hub              HeatmapHub
	DefaultDiagram   []byte
	RegionSuffix     string
	SSERetry         time.Duration
	WSMaxMessageSize int64
	Version          string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Heatmap   HeatmapHandler
	Layout    LayoutHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Hub),
		Heatmap:   NewHeatmapHandler(deps.Hub, deps.SSERetry),
		Layout:    NewLayoutHandler(deps.Store, deps.RegionSuffix, deps.DefaultDiagram),
		WebSocket: NewWebSocketHandler(deps.Hub, deps.WSMaxMessageSize),
	}
}

// RegisterRoutes registers all HTTP routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Heatmap data
	e.GET("/api/heatmap", handlers.Heatmap.HandleSnapshot)
	e.GET("/api/heatmap/msgpack", handlers.Heatmap.HandleSnapshotMsgpack)
	e.GET("/events", handlers.Heatmap.HandleEvents)

	// Diagram layouts
	layoutGroup := e.Group("/api/layout")
	layoutGroup.GET("", handlers.Layout.HandleGetLayout)
	layoutGroup.POST("/upload", handlers.Layout.HandleUploadLayout)
	layoutGroup.POST("/active", handlers.Layout.HandleSetActiveLayout)
	layoutGroup.GET("/recent", handlers.Layout.HandleRecentLayouts)
	layoutGroup.PUT("/:id", handlers.Layout.HandleRenameLayout)
	layoutGroup.DELETE("/:id", handlers.Layout.HandleDeleteLayout)

	e.GET("/keyboard.svg", handlers.Layout.HandleDiagram)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/heatmap", handlers.WebSocket.HandleWebSocket)
}

// MiddlewareConfig selects the optional middleware
type MiddlewareConfig struct {
	RequestLogging   bool
	RequestTimeout   time.Duration
	Compression      bool
	CompressionLevel int
	BodyLimit        string
	AllowOrigins     []string
}

// isStreamRequest reports whether the request holds its connection open.
func isStreamRequest(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == "/events" ||
		strings.HasPrefix(path, "/api/ws/") ||
		strings.Contains(c.Request().Header.Get("Accept"), "text/event-stream")
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			return c.Request().URL.Path == "/api/health" || isStreamRequest(c)
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout:      cfg.RequestTimeout,
			Skipper:      isStreamRequest,
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.Compression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.CompressionLevel,
			Skipper: isStreamRequest,
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if len(cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Last-Event-ID"},
		}))
	}
}
