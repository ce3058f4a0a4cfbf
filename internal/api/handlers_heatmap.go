// handlers_heatmap.go - Heatmap snapshot and live event handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/karastat/heatmap/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Defaults for the event stream.
const (
	DefaultSSERetry     = 2 * time.Second
	DefaultSSEKeepAlive = 15 * time.Second
)

// HeatmapHandlerImpl implements the HeatmapHandler interface
type HeatmapHandlerImpl struct {
	hub       HeatmapHub
	retry     time.Duration
	keepAlive time.Duration
}

// NewHeatmapHandler creates a heatmap handler. retry is the reconnect delay
// advertised to event stream clients.
func NewHeatmapHandler(hub HeatmapHub, retry time.Duration) *HeatmapHandlerImpl {
	if retry <= 0 {
		retry = DefaultSSERetry
	}
	return &HeatmapHandlerImpl{
		hub:       hub,
		retry:     retry,
		keepAlive: DefaultSSEKeepAlive,
	}
}

func (h *HeatmapHandlerImpl) snapshot(c echo.Context) ([]models.HeatmapRecord, error) {
	records, err := h.hub.Snapshot(c.Request().Context())
	if err != nil {
		return nil, NewServiceUnavailableError("key counts unavailable", err)
	}
	if records == nil {
		records = []models.HeatmapRecord{}
	}
	return records, nil
}

// HandleSnapshot returns the current heatmap as a JSON array
func (h *HeatmapHandlerImpl) HandleSnapshot(c echo.Context) error {
	records, err := h.snapshot(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSON(http.StatusOK, records)
}

// HandleSnapshotMsgpack returns the current heatmap in MessagePack
func (h *HeatmapHandlerImpl) HandleSnapshotMsgpack(c echo.Context) error {
	records, err := h.snapshot(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(records)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleEvents streams every published batch as a server-sent event until
// the client disconnects or the hub stops. A new subscriber first receives
// the current state.
func (h *HeatmapHandlerImpl) HandleEvents(c echo.Context) error {
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub.ID)

	// Set SSE headers
	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	fmt.Fprintf(res, "retry: %d\n\n", h.retry.Milliseconds())
	res.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			fmt.Fprint(res, ": keep-alive\n\n")
			res.Flush()
		case batch, ok := <-sub.C:
			if !ok {
				return nil
			}

			records := batch.Records
			if records == nil {
				records = []models.HeatmapRecord{}
			}
			data, err := json.Marshal(records)
			if err != nil {
				fmt.Printf("[SSE] Failed to encode batch %d: %v\n", batch.Seq, err)
				continue
			}

			fmt.Fprintf(res, "id: %d\ndata: %s\n\n", batch.Seq, data)
			res.Flush()
		}
	}
}
