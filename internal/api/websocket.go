package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/karastat/heatmap/internal/models"
	"github.com/labstack/echo/v4"
)

// DefaultWSMaxMessageSize bounds client frames. Clients only send pings.
const DefaultWSMaxMessageSize = 64 * 1024

// wsWriteTimeout bounds a single frame write to a slow client.
const wsWriteTimeout = 10 * time.Second

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes heatmap batches over WebSocket connections
type WebSocketHandler struct {
	hub            HeatmapHub
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewWebSocketHandler creates a WebSocket push handler
func NewWebSocketHandler(hub HeatmapHub, maxMessageSize int64) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultWSMaxMessageSize
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The page may be opened from a dev server on another port
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxMessageSize: maxMessageSize,
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg models.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
		return err
	}
	return nil
}

func (c *wsConn) sendError(message, code string) error {
	return c.send(models.WSMessage{
		Type: models.MsgTypeError,
		Payload: mustJSON(WSErrorResponse{
			Type:    models.MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

// HandleWebSocket upgrades the connection and pushes every batch until the
// client goes away or the hub stops
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	sub := wsh.hub.Subscribe()
	defer wsh.hub.Unsubscribe(sub.ID)

	conn := &wsConn{ws: ws}
	fmt.Printf("[WebSocket] Client connected (%s)\n", sub.ID)

	if err := conn.send(models.WSMessage{Type: models.MsgTypeConnected, ID: sub.ID}); err != nil {
		return nil
	}

	closed := make(chan struct{})
	go wsh.readLoop(conn, closed)

	for {
		select {
		case <-closed:
			fmt.Printf("[WebSocket] Client disconnected (%s)\n", sub.ID)
			return nil
		case batch, ok := <-sub.C:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return nil
			}
			records := batch.Records
			if records == nil {
				records = []models.HeatmapRecord{}
			}
			if err := conn.send(models.WSMessage{
				Type:    models.MsgTypeHeatmap,
				ID:      strconv.FormatUint(batch.Seq, 10),
				Payload: mustJSON(records),
			}); err != nil {
				return nil
			}
		}
	}
}

// readLoop answers pings until the connection fails, then closes closed.
func (wsh *WebSocketHandler) readLoop(conn *wsConn, closed chan<- struct{}) {
	defer close(closed)

	for {
		var msg models.WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			return
		}

		switch msg.Type {
		case models.MsgTypePing:
			conn.send(models.WSMessage{Type: models.MsgTypePong, ID: msg.ID})
		default:
			conn.sendError("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
