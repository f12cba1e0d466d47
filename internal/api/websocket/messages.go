package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/stats"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Acquisition messages
	MessageTypeAcquisitionState     MessageType = "acquisition_state"
	MessageTypeAcquisitionSample    MessageType = "acquisition_sample"
	MessageTypeAcquisitionCompleted MessageType = "acquisition_completed"
	MessageTypeAcquisitionFailed    MessageType = "acquisition_failed"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AcquisitionStateData represents a controller state change
type AcquisitionStateData struct {
	State     string `json:"state"`
	Previous  string `json:"previous_state"`
	SessionID string `json:"session_id,omitempty"`
}

// SampleData represents one decoded register read
type SampleData struct {
	SessionID string  `json:"session_id"`
	Index     int     `json:"index"`
	Level     float64 `json:"level"`
	Signal    uint16  `json:"signal"`
}

// AcquisitionResultData represents the end of a session
type AcquisitionResultData struct {
	SessionID string        `json:"session_id"`
	Label     string        `json:"label,omitempty"`
	Requested int           `json:"requested"`
	Samples   int           `json:"samples"`
	Failures  int           `json:"failures"`
	Stats     *stats.Record `json:"stats,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewAcquisitionStateMessage(newState, previousState, sessionID string) Message {
	return NewMessage(MessageTypeAcquisitionState, AcquisitionStateData{
		State:     newState,
		Previous:  previousState,
		SessionID: sessionID,
	})
}

func NewSampleMessage(sessionID string, index int, level float64, signal uint16) Message {
	return NewMessage(MessageTypeAcquisitionSample, SampleData{
		SessionID: sessionID,
		Index:     index,
		Level:     level,
		Signal:    signal,
	})
}

func NewCompletedMessage(data AcquisitionResultData) Message {
	return NewMessage(MessageTypeAcquisitionCompleted, data)
}

func NewFailedMessage(data AcquisitionResultData) Message {
	return NewMessage(MessageTypeAcquisitionFailed, data)
}
