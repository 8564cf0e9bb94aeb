package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process store with the same guarantees as the Postgres
// schema: gateway ids are unique and a node has at most one active
// incident. Used by tests and by DB_DRIVER=memory for bench runs.
type Memory struct {
	mu           sync.Mutex
	gateways     map[string]*Gateway
	readings     []*Reading
	incidents    map[int64]*Incident
	nextReading  int64
	nextIncident int64
	now          func() time.Time
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		gateways:  make(map[string]*Gateway),
		incidents: make(map[int64]*Incident),
		now:       time.Now,
	}
}

// EnsureGateway creates a provisional gateway row unless one exists
func (m *Memory) EnsureGateway(ctx context.Context, gatewayID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gateways[gatewayID]; exists {
		return false, nil
	}
	m.gateways[gatewayID] = &Gateway{
		GatewayID:   gatewayID,
		Status:      GatewayStatusProvisional,
		Description: provisionalDescription(gatewayID),
		CreatedAt:   m.now(),
	}
	return true, nil
}

// WithTx runs fn and undoes its writes if it fails. Writes of concurrent
// transactions interleave; per-node callers serialize themselves.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memoryTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// ListActiveIncidents returns every active incident, oldest first
func (m *Memory) ListActiveIncidents(ctx context.Context) ([]*Incident, error) {
	var active []*Incident
	for _, inc := range m.Incidents() {
		if inc.IsActive() {
			cp := inc
			active = append(active, &cp)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return active, nil
}

// GetIncident retrieves an incident by id
func (m *Memory) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getIncident(id)
}

func (m *Memory) getIncident(id int64) (*Incident, error) {
	inc, exists := m.incidents[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

// Gateways returns a copy of all gateway rows
func (m *Memory) Gateways() []Gateway {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Gateway, 0, len(m.gateways))
	for _, gw := range m.gateways {
		out = append(out, *gw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayID < out[j].GatewayID })
	return out
}

// Readings returns a copy of all reading rows in insert order
func (m *Memory) Readings() []Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Reading, len(m.readings))
	for i, r := range m.readings {
		out[i] = *r
	}
	return out
}

// Incidents returns a copy of all incident rows ordered by id
func (m *Memory) Incidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	m    *Memory
	undo []func()
}

func (tx *memoryTx) rollback() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) InsertReading(ctx context.Context, r *Reading) (int64, error) {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextReading++
	cp := *r
	cp.ID = m.nextReading
	m.readings = append(m.readings, &cp)
	r.ID = cp.ID

	tx.undo = append(tx.undo, func() {
		for i, row := range m.readings {
			if row.ID == cp.ID {
				m.readings = append(m.readings[:i], m.readings[i+1:]...)
				return
			}
		}
	})
	return cp.ID, nil
}

func (tx *memoryTx) ActiveIncident(ctx context.Context, nodeID string) (*Incident, error) {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inc := range m.incidents {
		if inc.NodeID == nodeID && inc.IsActive() {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) CreateIncident(ctx context.Context, inc *Incident) (int64, error) {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.incidents {
		if existing.NodeID == inc.NodeID && existing.IsActive() {
			return 0, ErrActiveIncidentExists
		}
	}

	m.nextIncident++
	cp := *inc
	cp.ID = m.nextIncident
	m.incidents[cp.ID] = &cp

	tx.undo = append(tx.undo, func() { delete(m.incidents, cp.ID) })
	return cp.ID, nil
}

func (tx *memoryTx) UpdateIncident(ctx context.Context, inc *Incident) error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	row, err := tx.activeRow(inc.ID)
	if err != nil {
		return err
	}
	prev := *row

	row.GatewayID = inc.GatewayID
	row.AIPrediction = inc.AIPrediction
	row.Confidence = inc.Confidence
	row.Temperature = inc.Temperature
	row.Humidity = inc.Humidity
	row.Flame = inc.Flame
	row.Smoke = inc.Smoke
	row.Latitude = inc.Latitude
	row.Longitude = inc.Longitude
	row.LastUpdatedAt = inc.LastUpdatedAt

	tx.undo = append(tx.undo, func() { *row = prev })
	return nil
}

func (tx *memoryTx) ResolveIncident(ctx context.Context, id int64, at time.Time, notes, team *string) error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	row, err := tx.activeRow(id)
	if err != nil {
		return err
	}
	prev := *row

	row.Status = IncidentStatusResolved
	row.ResolvedAt = &at
	if notes != nil {
		row.Notes = notes
	}
	if team != nil {
		row.AssignedTeam = team
	}

	tx.undo = append(tx.undo, func() { *row = prev })
	return nil
}

func (tx *memoryTx) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	return tx.m.getIncident(id)
}

// activeRow must be called with the lock held
func (tx *memoryTx) activeRow(id int64) (*Incident, error) {
	row, exists := tx.m.incidents[id]
	if !exists {
		return nil, ErrNotFound
	}
	if !row.IsActive() {
		return nil, ErrIncidentResolved
	}
	return row, nil
}
