package database

import (
	"time"
)

// Gateway represents a radio-to-broker bridge known to the registry
type Gateway struct {
	GatewayID      string
	OrganizationID *int64
	Status         string
	Description    string
	CreatedAt      time.Time
}

// Reading represents one processed telemetry envelope
type Reading struct {
	ID             int64
	NodeID         string
	GatewayID      string
	Timestamp      time.Time // received_at exactly as stamped by the gateway
	LocalTimestamp time.Time
	Temperature    *float64
	Humidity       *float64
	Flame          int
	Smoke          int
	Latitude       *float64
	Longitude      *float64
	RSSI           int
	SNR            float64
	AIPrediction   string
	Confidence     float64
}

// Incident represents a contiguous period of fire evidence for one node
type Incident struct {
	ID            int64
	NodeID        string
	GatewayID     string
	AIPrediction  string
	Confidence    float64
	Temperature   *float64
	Humidity      *float64
	Flame         int
	Smoke         int
	Latitude      *float64
	Longitude     *float64
	Status        string
	StartedAt     time.Time
	LastUpdatedAt time.Time
	ResolvedAt    *time.Time
	Notes         *string
	AssignedTeam  *string
}

// IsActive reports whether the incident is still open
func (i *Incident) IsActive() bool {
	return i != nil && i.Status == IncidentStatusActive
}

const (
	IncidentStatusActive   = "active"
	IncidentStatusResolved = "resolved"
)

const (
	// GatewayStatusProvisional marks gateways created on first sighting
	GatewayStatusProvisional = "provisional"
)
