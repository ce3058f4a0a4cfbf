package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/karastat/heatmap/internal/view"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyboardSVG(t *testing.T) {
	data := DefaultKeyboardSVG()
	require.NotEmpty(t, data)

	d, err := view.ParseDiagram(data, "-inner")
	require.NoError(t, err)
	assert.Greater(t, len(d.Regions()), 50)
	assert.NotNil(t, d.Element("Space-inner"))
	assert.NotNil(t, d.Element("Q-inner"))
}

func TestRegisterStaticRoutes(t *testing.T) {
	require.True(t, HasEmbeddedFiles())

	e := echo.New()
	e.GET("/api/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	require.NoError(t, RegisterStaticRoutes(e))

	tests := []struct {
		path     string
		contains string
	}{
		{"/", `id="toggleCount"`},
		{"/render.js", "EventSource"},
		{"/render.js", "/api/layout"},
		{"/keyboard.svg", `id="Q-inner"`},
		{"/some/client/route", `id="svg-container"`},
		{"/api/health", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}
