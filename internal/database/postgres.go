package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store implements Tx over a *sql.Tx or the pool itself
type store struct {
	q queryer
}

const incidentColumns = `
	id, node_id, gateway_id, ai_prediction, confidence,
	temperature, humidity, flame, smoke, latitude, longitude,
	status, started_at, last_updated_at, resolved_at, notes, assigned_team`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	err := row.Scan(
		&inc.ID,
		&inc.NodeID,
		&inc.GatewayID,
		&inc.AIPrediction,
		&inc.Confidence,
		&inc.Temperature,
		&inc.Humidity,
		&inc.Flame,
		&inc.Smoke,
		&inc.Latitude,
		&inc.Longitude,
		&inc.Status,
		&inc.StartedAt,
		&inc.LastUpdatedAt,
		&inc.ResolvedAt,
		&inc.Notes,
		&inc.AssignedTeam,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// EnsureGateway creates a provisional gateway row unless one exists. It
// reports whether a row was created.
func (db *DB) EnsureGateway(ctx context.Context, gatewayID string) (bool, error) {
	query := `
		INSERT INTO gateways (gateway_id, organization_id, status, description)
		VALUES ($1, NULL, $2, $3)
		ON CONFLICT (gateway_id) DO NOTHING
		RETURNING gateway_id
	`

	var id string
	err := db.QueryRowContext(ctx, query, gatewayID, GatewayStatusProvisional, provisionalDescription(gatewayID)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to ensure gateway %s: %w", gatewayID, err)
	}
	return true, nil
}

func provisionalDescription(gatewayID string) string {
	return fmt.Sprintf("Auto-provisioned on first telemetry from %s", gatewayID)
}

// ListActiveIncidents returns every active incident, oldest first
func (db *DB) ListActiveIncidents(ctx context.Context) ([]*Incident, error) {
	query := `SELECT` + incidentColumns + `
		FROM fire_incidents
		WHERE status = 'active'
		ORDER BY started_at
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// GetIncident retrieves an incident outside a transaction
func (db *DB) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	return (&store{q: db.DB}).GetIncident(ctx, id)
}

// InsertReading appends a sensor reading
func (s *store) InsertReading(ctx context.Context, r *Reading) (int64, error) {
	query := `
		INSERT INTO sensor_readings (
			node_id, gateway_id, timestamp, local_timestamp,
			temperature, humidity, flame, smoke, latitude, longitude,
			rssi, snr, ai_prediction, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	err := s.q.QueryRowContext(ctx, query,
		r.NodeID,
		r.GatewayID,
		r.Timestamp,
		r.LocalTimestamp,
		r.Temperature,
		r.Humidity,
		r.Flame,
		r.Smoke,
		r.Latitude,
		r.Longitude,
		r.RSSI,
		r.SNR,
		r.AIPrediction,
		r.Confidence,
	).Scan(&r.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}
	return r.ID, nil
}

// ActiveIncident locks and returns the node's active incident, or nil
func (s *store) ActiveIncident(ctx context.Context, nodeID string) (*Incident, error) {
	query := `SELECT` + incidentColumns + `
		FROM fire_incidents
		WHERE node_id = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1
		FOR UPDATE
	`

	inc, err := scanIncident(s.q.QueryRowContext(ctx, query, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// CreateIncident inserts an active incident and returns its id
func (s *store) CreateIncident(ctx context.Context, inc *Incident) (int64, error) {
	query := `
		INSERT INTO fire_incidents (
			node_id, gateway_id, ai_prediction, confidence,
			temperature, humidity, flame, smoke, latitude, longitude,
			status, started_at, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	var id int64
	err := s.q.QueryRowContext(ctx, query,
		inc.NodeID,
		inc.GatewayID,
		inc.AIPrediction,
		inc.Confidence,
		inc.Temperature,
		inc.Humidity,
		inc.Flame,
		inc.Smoke,
		inc.Latitude,
		inc.Longitude,
		inc.Status,
		inc.StartedAt,
		inc.LastUpdatedAt,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, ErrActiveIncidentExists
		}
		return 0, err
	}
	return id, nil
}

// UpdateIncident overwrites the evidence fields of an active incident
func (s *store) UpdateIncident(ctx context.Context, inc *Incident) error {
	query := `
		UPDATE fire_incidents
		SET gateway_id = $2, ai_prediction = $3, confidence = $4,
		    temperature = $5, humidity = $6, flame = $7, smoke = $8,
		    latitude = $9, longitude = $10, last_updated_at = $11
		WHERE id = $1 AND status = 'active'
	`

	res, err := s.q.ExecContext(ctx, query,
		inc.ID,
		inc.GatewayID,
		inc.AIPrediction,
		inc.Confidence,
		inc.Temperature,
		inc.Humidity,
		inc.Flame,
		inc.Smoke,
		inc.Latitude,
		inc.Longitude,
		inc.LastUpdatedAt,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, inc.ID)
}

// ResolveIncident moves an active incident to resolved. Notes and team are
// only overwritten when given.
func (s *store) ResolveIncident(ctx context.Context, id int64, at time.Time, notes, team *string) error {
	query := `
		UPDATE fire_incidents
		SET status = 'resolved', resolved_at = $2,
		    notes = COALESCE($3, notes),
		    assigned_team = COALESCE($4, assigned_team)
		WHERE id = $1 AND status = 'active'
	`

	res, err := s.q.ExecContext(ctx, query, id, at, notes, team)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition maps a guarded update that touched no row to
// ErrNotFound or ErrIncidentResolved
func (s *store) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.q.QueryRowContext(ctx, `SELECT status FROM fire_incidents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrIncidentResolved
}

// GetIncident retrieves an incident by id
func (s *store) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	query := `SELECT` + incidentColumns + `
		FROM fire_incidents
		WHERE id = $1
	`

	inc, err := scanIncident(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inc, nil
}
