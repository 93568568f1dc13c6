// Package protocol defines the WebSocket messages shared by the dashboard
// stream and the push publisher
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → dashboard
	TypeRoom  MessageType = "room"  // Room snapshot
	TypeStats MessageType = "stats" // Scheduler statistics
	TypeError MessageType = "error" // Rejected command

	// Dashboard → device
	TypeRefresh  MessageType = "refresh"   // Re-send the current snapshot
	TypeGetStats MessageType = "get_stats" // Request statistics

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// Distance is one direction of a room message
type Distance struct {
	Direction  string  `json:"direction"`
	Meters     float64 `json:"meters"`
	Echo       bool    `json:"echo"`
	LagSamples int     `json:"lag_samples"`
	UpdatedAt  int64   `json:"updated_at,omitempty"` // unix ms, 0 if never measured
	Updates    uint64  `json:"updates"`
}

// RoomData is the payload of a room message
type RoomData struct {
	Version   uint64       `json:"version"`
	UpdatedAt int64        `json:"updated_at,omitempty"`
	Distances []Distance   `json:"distances"`
	Outline   room.Outline `json:"outline"`
}

// NewRoomData converts a snapshot into its wire form
func NewRoomData(snap room.Snapshot) RoomData {
	data := RoomData{
		Version:   snap.Version,
		UpdatedAt: unixMilli(snap.UpdatedAt),
		Distances: make([]Distance, 0, len(snap.Entries)),
		Outline:   snap.Outline(),
	}

	for _, e := range snap.Entries {
		data.Distances = append(data.Distances, Distance{
			Direction:  e.Direction.String(),
			Meters:     e.Estimate.Meters,
			Echo:       e.Estimate.Echo,
			LagSamples: e.Estimate.LagSamples,
			UpdatedAt:  unixMilli(e.UpdatedAt),
			Updates:    e.Updates,
		})
	}

	return data
}

// NewRoomMessage creates a room message from a snapshot
func NewRoomMessage(snap room.Snapshot) (*Message, error) {
	return NewMessage(TypeRoom, NewRoomData(snap))
}

// GetRoomData extracts room data from a message
func (m *Message) GetRoomData() (*RoomData, error) {
	var data RoomData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ErrorData explains a rejected command
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(format string, args ...any) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: fmt.Sprintf(format, args...)})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
