// Package ingest is the classification worker: it turns relayed envelopes
// into persisted readings, incident transitions and notifications.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/classifier"
	"github.com/firewatch/flames/internal/database"
	"github.com/firewatch/flames/internal/incident"
	"github.com/firewatch/flames/internal/lock"
	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/protocol"
	"github.com/firewatch/flames/internal/queue"
)

// Store is the persistence the worker needs
type Store interface {
	EnsureGateway(ctx context.Context, gatewayID string) (bool, error)
	WithTx(ctx context.Context, fn func(database.Tx) error) error
}

// Notifier receives events after persistence succeeded. Implementations
// must not block beyond their own timeout.
type Notifier interface {
	NewReading(ctx context.Context, ev *protocol.NewReadingEvent)
	IncidentUpdate(ctx context.Context, ev *protocol.IncidentUpdateEvent)
}

// Worker processes one envelope at a time
type Worker struct {
	store      Store
	classifier classifier.Classifier
	tracker    *incident.Tracker
	locker     lock.Locker
	notifier   Notifier
	metrics    *metrics.WorkerMetrics
	location   *time.Location
	logger     *zap.Logger
}

// NewWorker creates a worker. location is the zone local timestamps are
// stored in.
func NewWorker(
	store Store,
	cls classifier.Classifier,
	tracker *incident.Tracker,
	locker lock.Locker,
	notifier Notifier,
	m *metrics.WorkerMetrics,
	location *time.Location,
	logger *zap.Logger,
) *Worker {
	if location == nil {
		location = time.Local
	}
	return &Worker{
		store:      store,
		classifier: cls,
		tracker:    tracker,
		locker:     locker,
		notifier:   notifier,
		metrics:    m,
		location:   location,
		logger:     logger,
	}
}

// Run consumes source until ctx is cancelled. Per-message failures are
// logged by Handle and never stop the loop.
func (w *Worker) Run(ctx context.Context, source queue.Source) error {
	w.logger.Info("Worker started")
	err := source.Serve(ctx, func(ctx context.Context, payload []byte) error {
		_ = w.Handle(ctx, payload)
		return nil
	})
	w.logger.Info("Worker stopped")
	return err
}

// Handle processes one envelope end to end. The returned error is already
// logged; it is exposed for callers and tests.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		w.metrics.Duration.Observe(time.Since(start).Seconds())
	}()

	log := w.logger.With(zap.String("message_id", uuid.NewString()))

	env, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		w.metrics.Dropped.WithLabelValues("decode").Inc()
		log.Warn("Envelope dropped", zap.Error(err), zap.ByteString("payload", payload))
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		w.metrics.Dropped.WithLabelValues("invalid").Inc()
		log.Warn("Envelope dropped", zap.Error(err), zap.ByteString("payload", payload))
		return fmt.Errorf("invalid envelope: %w", err)
	}

	node := string(env.Payload.Node)
	log = log.With(zap.String("node_id", node), zap.String("gateway_id", env.GatewayID))

	created, err := w.store.EnsureGateway(ctx, env.GatewayID)
	if err != nil {
		w.metrics.Failed.WithLabelValues("gateway").Inc()
		log.Error("Gateway lookup failed", zap.Error(err))
		return err
	}
	if created {
		w.metrics.GatewaysCreated.Inc()
		log.Info("Gateway auto-provisioned")
	}

	result, err := w.classifier.Classify(ctx, classifier.NewVector(&env.Payload))
	if err != nil {
		w.metrics.Failed.WithLabelValues("classify").Inc()
		log.Error("Classification failed", zap.Error(err))
		return fmt.Errorf("failed to classify: %w", err)
	}
	w.metrics.Classifications.WithLabelValues(result.Label).Inc()

	reading := w.buildReading(env, result)
	transition, err := w.persist(ctx, reading)
	if err != nil {
		w.metrics.Failed.WithLabelValues("persist").Inc()
		log.Error("Persistence failed, envelope abandoned", zap.Error(err))
		return err
	}

	w.metrics.Processed.Inc()
	log.Info("Reading processed",
		zap.String("ai_prediction", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Stringer("transition", transition.Kind),
	)

	w.notifier.NewReading(ctx, newReadingEvent(reading, env.ReceivedAt))
	if transition.Changed() {
		w.metrics.Transitions.WithLabelValues(transition.Kind.String()).Inc()
		w.notifier.IncidentUpdate(ctx, incidentUpdateEvent(transition, reading, env.ReceivedAt))
	}

	return nil
}

// persist stores the reading and applies it to the node's incident in one
// transaction, holding the node lock throughout.
func (w *Worker) persist(ctx context.Context, reading *database.Reading) (incident.Transition, error) {
	unlock, err := w.locker.Lock(ctx, reading.NodeID)
	if err != nil {
		return incident.Transition{}, fmt.Errorf("failed to lock node %s: %w", reading.NodeID, err)
	}
	defer unlock()

	var transition incident.Transition
	err = w.store.WithTx(ctx, func(tx database.Tx) error {
		if _, err := tx.InsertReading(ctx, reading); err != nil {
			return err
		}

		var applyErr error
		transition, applyErr = w.tracker.Apply(ctx, tx, evidenceFrom(reading))
		return applyErr
	})
	if err != nil {
		return incident.Transition{}, err
	}
	return transition, nil
}

func (w *Worker) buildReading(env *protocol.Envelope, result classifier.Result) *database.Reading {
	f := &env.Payload
	return &database.Reading{
		NodeID:         string(f.Node),
		GatewayID:      env.GatewayID,
		Timestamp:      env.ReceivedAt,
		LocalTimestamp: env.ReceivedAt.In(w.location),
		Temperature:    f.Temp,
		Humidity:       f.Hum,
		Flame:          f.FlameValue(),
		Smoke:          f.SmokeValue(),
		Latitude:       f.Lat,
		Longitude:      f.Lon,
		RSSI:           env.RSSI,
		SNR:            env.SNR,
		AIPrediction:   result.Label,
		Confidence:     result.Confidence,
	}
}

func evidenceFrom(r *database.Reading) incident.Evidence {
	return incident.Evidence{
		NodeID:      r.NodeID,
		GatewayID:   r.GatewayID,
		Label:       r.AIPrediction,
		Confidence:  r.Confidence,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Flame:       r.Flame,
		Smoke:       r.Smoke,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}
}

func newReadingEvent(r *database.Reading, at time.Time) *protocol.NewReadingEvent {
	return &protocol.NewReadingEvent{
		NodeID:       r.NodeID,
		GatewayID:    r.GatewayID,
		Timestamp:    at,
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		Flame:        r.Flame,
		Smoke:        r.Smoke,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		RSSI:         r.RSSI,
		SNR:          r.SNR,
		AIPrediction: r.AIPrediction,
		Confidence:   protocol.FormatConfidence(r.Confidence),
	}
}

func incidentUpdateEvent(t incident.Transition, r *database.Reading, at time.Time) *protocol.IncidentUpdateEvent {
	return &protocol.IncidentUpdateEvent{
		Type:         protocol.EventIncidentUpdate,
		Transition:   t.Kind.String(),
		IncidentID:   t.Incident.ID,
		Status:       t.Incident.Status,
		NodeID:       r.NodeID,
		GatewayID:    r.GatewayID,
		AIPrediction: r.AIPrediction,
		Confidence:   r.Confidence,
		Timestamp:    at,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
	}
}
