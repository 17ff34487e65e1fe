// Package api defines the payloads exchanged over the status WebSocket feed.
package api

import "github.com/undervolt/railwatch/internal/monitor"

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type           string  `json:"type"`
	IntervalMS     int     `json:"interval_ms"`
	Rail           string  `json:"rail"`
	ThresholdVolts float64 `json:"threshold_v"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, rail string, thresholdVolts float64) HelloMessage {
	return HelloMessage{
		Type:           "hello",
		IntervalMS:     intervalMS,
		Rail:           rail,
		ThresholdVolts: thresholdVolts,
	}
}

// ReadingMessage wraps one monitoring cycle's reading for transport.
type ReadingMessage struct {
	Type string `json:"type"`
	monitor.Reading
}

// NewReadingMessage constructs a reading payload.
func NewReadingMessage(reading monitor.Reading) ReadingMessage {
	return ReadingMessage{
		Type:    "reading",
		Reading: reading,
	}
}
