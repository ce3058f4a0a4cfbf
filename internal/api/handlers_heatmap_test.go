package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/karastat/heatmap/internal/heatmap"
	"github.com/karastat/heatmap/internal/models"
	"github.com/karastat/heatmap/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestHub(counts *testutil.StaticCounts) *heatmap.Hub {
	return heatmap.NewHub(counts, heatmap.NewBuilder(heatmap.NormalizerLog, 0, "", nil), time.Hour)
}

func TestHeatmapHandler_HandleSnapshot(t *testing.T) {
	counts := testutil.NewStaticCounts(
		models.KeyCount{Key: "Q", Count: 99},
		models.KeyCount{Key: "A", Count: 0},
	)
	h := NewHeatmapHandler(newTestHub(counts), 0)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/heatmap", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.HandleSnapshot(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var records []models.HeatmapRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "A-inner", records[0].ID)
	assert.Equal(t, "hsl(270, 100%, 50%)", records[0].Fill)
	assert.Equal(t, "Q-inner", records[1].ID)
	assert.Equal(t, "hsl(0, 100%, 50%)", records[1].Fill)
	assert.Equal(t, models.CountOf(99), records[1].Count)

	// counts travel as JSON numbers
	assert.Contains(t, rec.Body.String(), `"count":99`)
}

func TestHeatmapHandler_HandleSnapshot_EmptyIsArray(t *testing.T) {
	h := NewHeatmapHandler(newTestHub(testutil.NewStaticCounts()), 0)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/heatmap", nil), rec)

	require.NoError(t, h.HandleSnapshot(c))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHeatmapHandler_HandleSnapshot_SourceDown(t *testing.T) {
	counts := testutil.NewStaticCounts()
	counts.Fail(errors.New("database is locked"))
	h := NewHeatmapHandler(newTestHub(counts), 0)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/heatmap", nil), httptest.NewRecorder())

	err := h.HandleSnapshot(c)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Contains(t, apiErr.Details, "database is locked")
}

func TestHeatmapHandler_HandleSnapshotMsgpack(t *testing.T) {
	counts := testutil.NewStaticCounts(models.KeyCount{Key: "W", Count: 3})
	h := NewHeatmapHandler(newTestHub(counts), 0)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/heatmap/msgpack", nil), rec)

	require.NoError(t, h.HandleSnapshotMsgpack(c))
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var records []models.HeatmapRecord
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "W-inner", records[0].ID)
	assert.Equal(t, models.CountOf(3), records[0].Count)
}

// sseReader reads raw event stream lines.
type sseReader struct {
	t *testing.T
	r *bufio.Reader
}

// event reads lines up to the next blank line.
func (s *sseReader) event() []string {
	s.t.Helper()
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(s.t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestHeatmapHandler_HandleEvents(t *testing.T) {
	counts := testutil.NewStaticCounts(models.KeyCount{Key: "Q", Count: 1})
	hub := newTestHub(counts)
	_, err := hub.Poll(context.Background())
	require.NoError(t, err)

	e := echo.New()
	e.GET("/events", NewHeatmapHandler(hub, 1500*time.Millisecond).HandleEvents)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	stream := &sseReader{t: t, r: bufio.NewReader(resp.Body)}

	assert.Equal(t, []string{"retry: 1500"}, stream.event())

	// current state first
	first := stream.event()
	require.Len(t, first, 2)
	assert.Equal(t, "id: 1", first[0])
	assert.Equal(t, `data: [{"id":"Q-inner","fill":"hsl(0, 100%, 50%)","count":1}]`, first[1])

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	counts.Set(models.KeyCount{Key: "Q", Count: 2}, models.KeyCount{Key: "W", Count: 0})
	_, err = hub.Poll(context.Background())
	require.NoError(t, err)

	second := stream.event()
	require.Len(t, second, 2)
	assert.Equal(t, "id: 2", second[0])

	var records []models.HeatmapRecord
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(second[1], "data: ")), &records))
	require.Len(t, records, 2)
	assert.Equal(t, models.CountOf(2), records[0].Count)

	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHeatmapHandler_HandleEvents_EndsWhenHubStops(t *testing.T) {
	hub := newTestHub(testutil.NewStaticCounts())
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	e := echo.New()
	e.GET("/events", NewHeatmapHandler(hub, 0).HandleEvents)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	stream := &sseReader{t: t, r: bufio.NewReader(resp.Body)}
	assert.Equal(t, []string{"retry: 2000"}, stream.event())

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	stopHub()
	<-hubDone

	// the response ends once the subscription is closed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := resp.Body.Read(make([]byte, 512)); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end")
	}
}
