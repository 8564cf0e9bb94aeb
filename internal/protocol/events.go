package protocol

import (
	"encoding/json"
	"time"
)

const (
	EventNewReading     = "new_reading"
	EventIncidentUpdate = "incident_update"
)

// NewReadingEvent is pushed to subscribers for every processed envelope
type NewReadingEvent struct {
	NodeID       string    `json:"node_id"`
	GatewayID    string    `json:"gateway_id"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  *float64  `json:"temperature"`
	Humidity     *float64  `json:"humidity"`
	Flame        int       `json:"flame"`
	Smoke        int       `json:"smoke"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	RSSI         int       `json:"rssi"`
	SNR          float64   `json:"snr"`
	AIPrediction string    `json:"ai_prediction"`
	Confidence   string    `json:"confidence"`
}

// IncidentUpdateEvent is pushed when an incident is created, updated or resolved
type IncidentUpdateEvent struct {
	Type         string    `json:"type"`
	Transition   string    `json:"transition"`
	IncidentID   int64     `json:"incident_id"`
	Status       string    `json:"status"`
	NodeID       string    `json:"node_id"`
	GatewayID    string    `json:"gateway_id"`
	AIPrediction string    `json:"ai_prediction"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
}

// EncodeEvent encodes any notification event to JSON
func EncodeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}
