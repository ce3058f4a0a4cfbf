package models

import "encoding/json"

// WebSocket message types for the live heatmap channel
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeHeatmap   = "heatmap"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WSMessage is the envelope for every WebSocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
