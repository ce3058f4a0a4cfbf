package view

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/karastat/heatmap/internal/models"
)

// WSStream consumes the WebSocket push channel.
type WSStream struct {
	URL          string
	Dialer       *websocket.Dialer
	InitialRetry time.Duration
	MaxRetry     time.Duration
}

// NewWSStream targets baseURL's WebSocket endpoint. http and https base URLs
// are mapped to ws and wss.
func NewWSStream(baseURL string) *WSStream {
	u := joinURL(baseURL, WebSocketPath)
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSStream{URL: u}
}

// Run implements Stream.
func (s *WSStream) Run(ctx context.Context, deliver func([]models.HeatmapRecord)) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return reconnect(ctx, "WebSocket", s.InitialRetry, s.MaxRetry, func(ctx context.Context) (bool, time.Duration, error) {
		connected, err := s.consume(ctx, dialer, deliver)
		return connected, 0, err
	})
}

func (s *WSStream) consume(ctx context.Context, dialer *websocket.Dialer, deliver func([]models.HeatmapRecord)) (bool, error) {
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return false, &StreamError{Op: "connect", URL: s.URL, Err: err}
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg models.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, &StreamError{Op: "read", URL: s.URL, Err: err}
		}

		switch msg.Type {
		case models.MsgTypeHeatmap:
			records, err := decodeRecords(msg.Payload)
			if err != nil {
				fmt.Printf("[WebSocket] Dropping message: %v\n", err)
				continue
			}
			deliver(records)
		case models.MsgTypeError:
			fmt.Printf("[WebSocket] Server error: %s\n", string(msg.Payload))
		}
	}
}
