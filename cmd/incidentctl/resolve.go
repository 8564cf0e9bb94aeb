package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/database"
	"github.com/firewatch/flames/internal/incident"
	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/notify"
	"github.com/firewatch/flames/internal/protocol"
	"github.com/firewatch/flames/internal/queue"
)

var (
	resolveNotes  string
	resolveTeam   string
	resolveNotify bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <incident-id>",
	Short: "Resolve an active incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid incident id %q: %w", args[0], err)
		}

		req := incident.ResolveRequest{}
		if cmd.Flags().Changed("notes") {
			req.Notes = &resolveNotes
		}
		if cmd.Flags().Changed("team") {
			req.AssignedTeam = &resolveTeam
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		tracker := incident.NewTracker(incident.Policy{MinConfidence: cfg.Classifier.MinConfidence}, zlog)

		var resolved *database.Incident
		err = db.WithTx(ctx, func(tx database.Tx) error {
			resolved, err = tracker.Resolve(ctx, tx, id, req)
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("Incident %d on node %s resolved at %s\n", resolved.ID, resolved.NodeID, resolved.ResolvedAt.Format("2006-01-02 15:04:05"))

		if resolveNotify {
			announce(ctx, resolved)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "free-text notes stored on the incident")
	resolveCmd.Flags().StringVar(&resolveTeam, "team", "", "team assigned to the incident")
	resolveCmd.Flags().BoolVar(&resolveNotify, "notify", true, "send an incident_update notification to the configured sinks")
}

// announce pushes the resolution to the same sinks the worker uses
func announce(ctx context.Context, inc *database.Incident) {
	var sinks []notify.Sink
	if cfg.Notify.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.URL))
	}
	if cfg.Notify.Kafka {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicIncidents)
		defer producer.Close()
		sinks = append(sinks, notify.NewKafkaSink(producer))
	}
	if len(sinks) == 0 {
		zlog.Debug("No notification sinks configured")
		return
	}

	fanout := notify.NewFanout(cfg.Notify.Timeout, metrics.NewWorkerMetrics(metrics.NewRegistry()), zlog, sinks...)
	fanout.IncidentUpdate(ctx, &protocol.IncidentUpdateEvent{
		Type:         protocol.EventIncidentUpdate,
		Transition:   incident.ActionResolve.String(),
		IncidentID:   inc.ID,
		Status:       inc.Status,
		NodeID:       inc.NodeID,
		GatewayID:    inc.GatewayID,
		AIPrediction: inc.AIPrediction,
		Confidence:   inc.Confidence,
		Timestamp:    *inc.ResolvedAt,
		Latitude:     inc.Latitude,
		Longitude:    inc.Longitude,
	})
	zlog.Info("Resolution announced", zap.Int64("incident_id", inc.ID), zap.Int("sinks", len(sinks)))
}
