package server

import (
	"encoding/json"
	"strconv"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
)

// WebSocket message types
const (
	MessageTypeAudioFormat = "audio_format"
	MessageTypeError       = "error"
	MessageTypeHeartbeat   = "heartbeat"
)

// SampleFormatF32LE names the wire encoding of binary chunks: interleaved
// little-endian 32-bit floats.
const SampleFormatF32LE = "f32le"

// AudioFormatMessage is sent as the first message to inform clients about audio format
type AudioFormatMessage struct {
	Type         string `json:"type"`
	SourceID     string `json:"source_id"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	SampleFormat string `json:"sample_format"`
	HeaderSize   int    `json:"header_size"`
}

// ErrorMessage is sent when an error occurs
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// HeartbeatMessage is sent periodically to keep connection alive
type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// CreateAudioFormatMessage creates the initial audio format message
func CreateAudioFormatMessage(sourceID string, format audio.AudioFormat) ([]byte, error) {
	msg := AudioFormatMessage{
		Type:         MessageTypeAudioFormat,
		SourceID:     sourceID,
		SampleRate:   format.SampleRate,
		Channels:     format.Channels,
		SampleFormat: SampleFormatF32LE,
		HeaderSize:   audio.BinaryChunkHeaderSize,
	}

	return json.Marshal(msg)
}

// CreateErrorMessage creates an error message
func CreateErrorMessage(errMsg string, code int) ([]byte, error) {
	msg := ErrorMessage{
		Type:  MessageTypeError,
		Error: errMsg,
		Code:  code,
	}

	return json.Marshal(msg)
}

// CreateHeartbeatMessage creates a heartbeat message
func CreateHeartbeatMessage(timestamp int64) ([]byte, error) {
	msg := HeartbeatMessage{
		Type:      MessageTypeHeartbeat,
		Timestamp: timestamp,
	}

	return json.Marshal(msg)
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	SourceID        string
	QueueSize       int
	EnableHeartbeat bool
}

// ParseConnectionConfig parses connection configuration from query parameters
func ParseConnectionConfig(params map[string][]string, defaultQueueSize int) *ConnectionConfig {
	config := &ConnectionConfig{
		QueueSize: defaultQueueSize,
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	if sizes, ok := params["queue_size"]; ok && len(sizes) > 0 {
		if n, err := strconv.Atoi(sizes[0]); err == nil && n > 0 {
			config.QueueSize = n
		}
	}

	if values, ok := params["heartbeat"]; ok && len(values) > 0 {
		if enabled, err := strconv.ParseBool(values[0]); err == nil {
			config.EnableHeartbeat = enabled
		}
	}

	return config
}
