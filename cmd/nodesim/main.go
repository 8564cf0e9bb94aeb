package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/logger"
	"github.com/firewatch/flames/internal/relay"
	"github.com/firewatch/flames/pkg/config"
)

var (
	simNode     string
	simGateway  string
	simCount    int
	simInterval time.Duration
	simFire     bool
	simLat      float64
	simLon      float64
)

var rootCmd = &cobra.Command{
	Use:   "nodesim",
	Short: "Simulate a sensor node without a radio",
	Long: `Builds sensor frames the way a field node would, wraps them in gateway
envelopes and publishes them straight to the uplink broker.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSim,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&simNode, "node", "", "node id (default: random SIM-xxxxxx)")
	rootCmd.Flags().StringVar(&simGateway, "gateway", "", "gateway id stamped on envelopes (default: GATEWAY_ID)")
	rootCmd.Flags().IntVar(&simCount, "count", 10, "number of frames to send")
	rootCmd.Flags().DurationVar(&simInterval, "interval", time.Second, "delay between frames")
	rootCmd.Flags().BoolVar(&simFire, "fire", false, "send fire-like readings")
	rootCmd.Flags().Float64Var(&simLat, "lat", 0, "node latitude (omitted when 0)")
	rootCmd.Flags().Float64Var(&simLon, "lon", 0, "node longitude (omitted when 0)")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	zlog, err := logger.New(cfg.Log.Level, "console", "flames-nodesim")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zlog.Sync()

	if simNode == "" {
		simNode = "SIM-" + uuid.NewString()[:6]
	}
	if simGateway == "" {
		simGateway = cfg.Gateway.ID
	}

	transport, err := relay.OpenTransport(cfg, "flames-nodesim-"+uuid.NewString()[:8], "", zlog)
	if err != nil {
		return err
	}
	defer transport.Close()

	publisher := relay.New(transport.Publisher, cfg.Relay.Timeout, zlog)
	sim := newSimulator(simNode, simFire, rand.New(rand.NewSource(time.Now().UnixNano())))
	if simLat != 0 || simLon != 0 {
		sim.setPosition(simLat, simLon)
	}

	ctx := cmd.Context()
	zlog.Info("Simulating node",
		zap.String("node_id", simNode),
		zap.Bool("fire", simFire),
		zap.Int("count", simCount),
		zap.String("transport", transport.Name),
	)

	location := cfg.Gateway.Location()
	for i := 0; i < simCount; i++ {
		env := sim.envelope(simGateway, time.Now().In(location))
		if err := publisher.Publish(ctx, env); err != nil {
			zlog.Warn("Failed to publish frame", zap.Int("seq", i+1), zap.Error(err))
		} else {
			zlog.Info("Frame sent", zap.Int("seq", i+1), zap.Int("rssi", env.RSSI))
		}

		if i == simCount-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(simInterval):
		}
	}
	return nil
}
