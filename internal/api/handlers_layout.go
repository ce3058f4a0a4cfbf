// handlers_layout.go - Keyboard diagram layout handlers
package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/karastat/heatmap/internal/models"
	"github.com/karastat/heatmap/internal/storage"
	"github.com/karastat/heatmap/internal/view"
	"github.com/labstack/echo/v4"
)

// DefaultLayoutID names the embedded diagram.
const DefaultLayoutID = "default"

// LayoutHandlerImpl implements the LayoutHandler interface
type LayoutHandlerImpl struct {
	store          storage.Store
	suffix         string
	defaultDiagram []byte
	defaultRegions int

	mu       sync.RWMutex
	activeID string
}

// NewLayoutHandler creates a layout handler. defaultDiagram is served while
// no uploaded layout is active.
func NewLayoutHandler(store storage.Store, suffix string, defaultDiagram []byte) *LayoutHandlerImpl {
	regions, err := ValidateDiagram(defaultDiagram, suffix)
	if err != nil {
		fmt.Printf("[Layout] Embedded diagram is not usable: %v\n", err)
	}
	return &LayoutHandlerImpl{
		store:          store,
		suffix:         suffix,
		defaultDiagram: defaultDiagram,
		defaultRegions: regions,
	}
}

// ValidateDiagram checks that data is an SVG document with at least one key
// region and returns the number of regions.
func ValidateDiagram(data []byte, suffix string) (int, error) {
	d, err := view.ParseDiagram(data, suffix)
	if err != nil {
		return 0, err
	}
	n := len(d.Regions())
	if n == 0 {
		return 0, fmt.Errorf("no element id ends with %q", suffix)
	}
	return n, nil
}

// ActiveLayout returns the active layout id, or "" for the embedded default
func (h *LayoutHandlerImpl) ActiveLayout() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeID
}

func (h *LayoutHandlerImpl) setActive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeID = id
}

// HandleGetLayout returns metadata for the active layout
func (h *LayoutHandlerImpl) HandleGetLayout(c echo.Context) error {
	id := h.ActiveLayout()
	if id == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"layoutId": DefaultLayoutID,
			"name":     "keyboard.svg",
			"regions":  h.defaultRegions,
			"suffix":   h.suffix,
			"default":  true,
		})
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("layout", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"layoutId": info.ID,
		"name":     info.Name,
		"regions":  info.Regions,
		"suffix":   h.suffix,
		"default":  false,
	})
}

// HandleUploadLayout validates, stores and activates a new diagram
func (h *LayoutHandlerImpl) HandleUploadLayout(c echo.Context) error {
	var req uploadLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	regions, err := ValidateDiagram(decoded, h.suffix)
	if err != nil {
		return NewInvalidDiagramError("not a usable keyboard diagram", err)
	}

	info, err := h.store.SaveBytes(req.Name, decoded)
	if err != nil {
		return NewInternalError("failed to save layout", err)
	}
	if err := h.store.SetRegions(info.ID, regions); err != nil {
		return NewInternalError("failed to save layout", err)
	}

	h.setActive(info.ID)
	fmt.Printf("[Layout] Uploaded %s (%s, %d key regions)\n", info.ID, info.Name, regions)

	return c.JSON(http.StatusCreated, info)
}

// HandleSetActiveLayout switches the served diagram. "default" selects the
// embedded one.
func (h *LayoutHandlerImpl) HandleSetActiveLayout(c echo.Context) error {
	var req setActiveLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if req.LayoutID == "" {
		return NewValidationError("layoutId")
	}

	if req.LayoutID == DefaultLayoutID {
		h.setActive("")
		return c.JSON(http.StatusOK, map[string]string{"layoutId": DefaultLayoutID})
	}

	if _, err := h.store.Get(req.LayoutID); err != nil {
		return NewNotFoundError("layout", req.LayoutID)
	}

	h.setActive(req.LayoutID)
	return c.JSON(http.StatusOK, map[string]string{"layoutId": req.LayoutID})
}

// HandleRecentLayouts returns uploaded layouts, newest first
func (h *LayoutHandlerImpl) HandleRecentLayouts(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list layouts", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleRenameLayout changes the display name of a layout
func (h *LayoutHandlerImpl) HandleRenameLayout(c echo.Context) error {
	id := c.Param("id")

	var req renameLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return storeError(err, id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteLayout removes a layout. Deleting the active layout falls
// back to the embedded diagram.
func (h *LayoutHandlerImpl) HandleDeleteLayout(c echo.Context) error {
	id := c.Param("id")

	if err := h.store.Delete(id); err != nil {
		return storeError(err, id)
	}

	h.mu.Lock()
	if h.activeID == id {
		h.activeID = ""
	}
	h.mu.Unlock()

	return c.NoContent(http.StatusNoContent)
}

// HandleDiagram serves the active diagram markup
func (h *LayoutHandlerImpl) HandleDiagram(c echo.Context) error {
	data := h.defaultDiagram
	if id := h.ActiveLayout(); id != "" {
		var err error
		data, err = h.store.ReadFile(id)
		if err != nil {
			return storeError(err, id)
		}
	}

	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "image/svg+xml", data)
}

func storeError(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("layout", id)
	}
	return NewInternalError("layout storage failed", err)
}

// Request types

type uploadLayoutRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded SVG
}

func (r *uploadLayoutRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type setActiveLayoutRequest struct {
	LayoutID string `json:"layoutId"`
}

type renameLayoutRequest struct {
	Name string `json:"name"`
}
