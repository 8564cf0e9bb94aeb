package protocol

import (
	"encoding/json"
	"time"
)

// Envelope is the broker message a gateway publishes for every acknowledged frame
type Envelope struct {
	GatewayID  string    `json:"gateway"`
	RSSI       int       `json:"rssi"`
	SNR        float64   `json:"snr"`
	ReceivedAt time.Time `json:"received_at"`
	Payload    Frame     `json:"payload"`
}

// NewEnvelope wraps a frame with the gateway identity and RF metrics
func NewEnvelope(gatewayID string, rssi int, snr float64, receivedAt time.Time, frame Frame) *Envelope {
	return &Envelope{
		GatewayID:  gatewayID,
		RSSI:       rssi,
		SNR:        snr,
		ReceivedAt: receivedAt,
		Payload:    frame,
	}
}

// Validate checks the fields every downstream stage relies on
func (e *Envelope) Validate() error {
	if e.GatewayID == "" {
		return ErrMissingGateway
	}
	return validateFrame(&e.Payload)
}

// EncodeEnvelope encodes an Envelope to JSON
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope decodes JSON to an Envelope. It does not validate.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
