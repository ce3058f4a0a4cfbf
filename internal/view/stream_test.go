package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/karastat/heatmap/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDecoder_Fields(t *testing.T) {
	body := ": keep-alive\n" +
		"retry: 1500\n\n" +
		"id: 7\n" +
		"event: message\n" +
		"data: [1,\n" +
		"data: 2]\n\n" +
		"data:no-space\r\n\r\n" +
		"data: cut off"

	dec := newEventDecoder(strings.NewReader(body))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, ev.Retry)
	assert.Empty(t, ev.Data)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.True(t, ev.hasID)
	assert.Equal(t, "7", ev.ID)
	assert.Equal(t, "message", ev.Event)
	assert.Equal(t, "[1,\n2]", ev.Data)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "no-space", ev.Data)
	assert.False(t, ev.hasID)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventDecoder_InvalidRetryIgnored(t *testing.T) {
	dec := newEventDecoder(strings.NewReader("retry: soon\ndata: x\n\n"))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Zero(t, ev.Retry)
	assert.Equal(t, "x", ev.Data)
}

// collector gathers delivered batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]models.HeatmapRecord
}

func (c *collector) deliver(records []models.HeatmapRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) get(i int) []models.HeatmapRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestSSEStream_DeliversAndReconnects(t *testing.T) {
	var mu sync.Mutex
	var lastIDs []string
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		n := conns
		lastIDs = append(lastIDs, r.Header.Get("Last-Event-ID"))
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 10\n\n")
		fmt.Fprintf(w, "id: %d\ndata: [{\"id\":\"key-Q-inner\",\"fill\":\"hsl(0, 100%%, 50%%)\",\"count\":%d}]\n\n", n, n)
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "event: ping\ndata: ignored\n\n")
	}))
	defer srv.Close()

	stream := NewSSEStream(srv.URL)
	stream.InitialRetry = 5 * time.Millisecond
	stream.MaxRetry = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collector
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, got.deliver) }()

	require.Eventually(t, func() bool { return got.len() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	first := got.get(0)
	require.Len(t, first, 1)
	assert.Equal(t, "key-Q-inner", first[0].ID)
	assert.Equal(t, models.Count("1"), first[0].Count)
	assert.Equal(t, models.Count("2"), got.get(1)[0].Count)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(lastIDs), 2)
	assert.Equal(t, "", lastIDs[0])
	assert.Equal(t, "1", lastIDs[1])
}

func TestSSEStream_SkipsUnreadableRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: [{"id":5,"fill":"red","count":1},{"id":"key-Q-inner","fill":"blue","count":2},{"id":"key-W-inner","fill":"red","count":{"n":1}}]`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, ctx := newInitialized(t)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var got collector
	done := make(chan error, 1)
	go func() {
		done <- NewSSEStream(srv.URL).Run(streamCtx, func(records []models.HeatmapRecord) {
			got.deliver(records)
			s.Apply(streamCtx, records)
		})
	}()

	require.Eventually(t, func() bool {
		return attr(t, s, ctx, "key-Q-inner", CountAttr) == "2"
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	batch := got.get(0)
	require.Len(t, batch, 3)
	assert.Empty(t, batch[0].ID)
	assert.Equal(t, "key-Q-inner", batch[1].ID)
	assert.Empty(t, batch[2].ID)

	assert.Equal(t, "blue", fill(t, s, ctx, "key-Q-inner"))
	assert.Empty(t, attr(t, s, ctx, "key-W-inner", CountAttr))

	var stats Stats
	require.NoError(t, s.Inspect(ctx, func(_ *Diagram, st Stats) { stats = st }))
	assert.Equal(t, Stats{Batches: 1, Applied: 1, Malformed: 2}, stats)
}

func TestSSEStream_RejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	stream := NewSSEStream(srv.URL)
	var lastID string
	var hint time.Duration
	connected, err := stream.consume(context.Background(), srv.Client(), &lastID, &hint, func([]models.HeatmapRecord) {})

	assert.False(t, connected)
	var streamErr *StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "connect", streamErr.Op)
}

func TestSSEStream_StopsOnCancelWhileConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSSEStream(srv.URL).Run(ctx, func([]models.HeatmapRecord) {}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestNewWSStream_MapsScheme(t *testing.T) {
	assert.Equal(t, "ws://localhost:8089/api/ws/heatmap", NewWSStream("http://localhost:8089/").URL)
	assert.Equal(t, "wss://example.com/api/ws/heatmap", NewWSStream("https://example.com").URL)
}

func TestWSStream_DeliversHeatmapMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(models.WSMessage{Type: models.MsgTypeConnected})
		payload, _ := json.Marshal([]models.HeatmapRecord{{ID: "key-W-inner", Fill: "hsl(135, 100%, 50%)", Count: "n/a"}})
		conn.WriteJSON(models.WSMessage{Type: models.MsgTypeHeatmap, Payload: payload})
		conn.WriteJSON(models.WSMessage{Type: models.MsgTypeHeatmap, Payload: json.RawMessage(`{"broken":true}`)})

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewWSStream(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collector
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, got.deliver) }()

	require.Eventually(t, func() bool { return got.len() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	batch := got.get(0)
	require.Len(t, batch, 1)
	assert.Equal(t, "key-W-inner", batch[0].ID)
	assert.Equal(t, models.Count("n/a"), batch[0].Count)
	assert.Equal(t, 1, got.len())
}
