package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/database"
)

// Store is the incident persistence a Tracker drives. Implementations run
// inside the caller's transaction; the caller serializes per node.
type Store interface {
	// ActiveIncident returns the node's active incident or nil
	ActiveIncident(ctx context.Context, nodeID string) (*database.Incident, error)
	CreateIncident(ctx context.Context, inc *database.Incident) (int64, error)
	UpdateIncident(ctx context.Context, inc *database.Incident) error
	ResolveIncident(ctx context.Context, id int64, at time.Time, notes, team *string) error
	GetIncident(ctx context.Context, id int64) (*database.Incident, error)
}

// Transition is the outcome of applying evidence
type Transition struct {
	Kind     Action
	Incident *database.Incident
}

// Changed reports whether a row was written
func (t Transition) Changed() bool {
	return t.Kind != ActionNone
}

// ResolveRequest carries the optional operator annotations of a manual
// resolution
type ResolveRequest struct {
	Notes        *string
	AssignedTeam *string
}

// Tracker applies evidence to the store
type Tracker struct {
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a tracker
func NewTracker(policy Policy, logger *zap.Logger) *Tracker {
	return &Tracker{
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Apply evaluates one reading for its node and persists the transition
func (t *Tracker) Apply(ctx context.Context, store Store, ev Evidence) (Transition, error) {
	current, err := store.ActiveIncident(ctx, ev.NodeID)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to load active incident: %w", err)
	}

	now := t.now()
	action := Decide(current, ev, t.policy)

	switch action {
	case ActionCreate:
		inc := &database.Incident{
			NodeID:        ev.NodeID,
			Status:        database.IncidentStatusActive,
			StartedAt:     now,
			LastUpdatedAt: now,
		}
		applyEvidence(inc, ev)

		id, err := store.CreateIncident(ctx, inc)
		if err != nil {
			return Transition{}, fmt.Errorf("failed to create incident: %w", err)
		}
		inc.ID = id

		t.logger.Info("Incident opened",
			zap.Int64("incident_id", id),
			zap.String("node_id", ev.NodeID),
			zap.Float64("confidence", ev.Confidence),
		)
		return Transition{Kind: action, Incident: inc}, nil

	case ActionUpdate:
		inc := *current
		applyEvidence(&inc, ev)
		inc.LastUpdatedAt = now

		if err := store.UpdateIncident(ctx, &inc); err != nil {
			return Transition{}, fmt.Errorf("failed to update incident %d: %w", inc.ID, err)
		}
		return Transition{Kind: action, Incident: &inc}, nil

	case ActionResolve:
		if err := store.ResolveIncident(ctx, current.ID, now, nil, nil); err != nil {
			return Transition{}, fmt.Errorf("failed to resolve incident %d: %w", current.ID, err)
		}
		inc := *current
		inc.Status = database.IncidentStatusResolved
		inc.ResolvedAt = &now

		t.logger.Info("Incident resolved",
			zap.Int64("incident_id", inc.ID),
			zap.String("node_id", ev.NodeID),
			zap.String("label", ev.Label),
		)
		return Transition{Kind: action, Incident: &inc}, nil
	}

	return Transition{Kind: ActionNone}, nil
}

// Resolve closes an active incident on operator request. Resolving an
// incident that is already resolved returns database.ErrIncidentResolved and
// leaves the row untouched.
func (t *Tracker) Resolve(ctx context.Context, store Store, id int64, req ResolveRequest) (*database.Incident, error) {
	inc, err := store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.IsActive() {
		return nil, fmt.Errorf("incident %d: %w", id, database.ErrIncidentResolved)
	}

	if err := store.ResolveIncident(ctx, id, t.now(), req.Notes, req.AssignedTeam); err != nil {
		if errors.Is(err, database.ErrIncidentResolved) {
			return nil, fmt.Errorf("incident %d: %w", id, err)
		}
		return nil, fmt.Errorf("failed to resolve incident %d: %w", id, err)
	}

	t.logger.Info("Incident resolved manually", zap.Int64("incident_id", id), zap.String("node_id", inc.NodeID))
	return store.GetIncident(ctx, id)
}

func applyEvidence(inc *database.Incident, ev Evidence) {
	inc.GatewayID = ev.GatewayID
	inc.AIPrediction = ev.Label
	inc.Confidence = ev.Confidence
	inc.Temperature = ev.Temperature
	inc.Humidity = ev.Humidity
	inc.Flame = ev.Flame
	inc.Smoke = ev.Smoke
	inc.Latitude = ev.Latitude
	inc.Longitude = ev.Longitude
}
