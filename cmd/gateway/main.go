package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firewatch/flames/internal/logger"
	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/nodes"
	"github.com/firewatch/flames/internal/radio"
	"github.com/firewatch/flames/internal/relay"
	"github.com/firewatch/flames/internal/server"
	"github.com/firewatch/flames/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, "flames-gateway")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	os.Exit(logger.Finish(zlog, "Gateway", run(cfg, zlog)))
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog = zlog.With(zap.String("gateway_id", cfg.Gateway.ID))
	zlog.Info("Starting gateway")

	reg := metrics.NewRegistry()
	gatewayMetrics := metrics.NewGatewayMetrics(reg)

	// Connect to the broker
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "flames-gateway-" + uuid.NewString()[:8]
	}
	transport, err := relay.OpenTransport(cfg, clientID, "", zlog)
	if err != nil {
		return err
	}
	defer transport.Close()
	zlog.Info("Relay transport ready", zap.String("transport", transport.Name))

	publisher := relay.New(transport.Publisher, cfg.Relay.Timeout, zlog)

	// Open the transceiver
	dev, err := radio.OpenSPI(cfg.Radio.SPIPort, cfg.Radio.ResetPin)
	if err != nil {
		return err
	}
	defer dev.Close()

	roster := nodes.NewRoster()
	receiver := radio.NewReceiver(radio.ReceiverConfig{
		GatewayID:    cfg.Gateway.ID,
		FrequencyHz:  uint32(cfg.Radio.FrequencyHz),
		Location:     cfg.Gateway.Location(),
		PollInterval: cfg.Radio.PollInterval,
		AckTimeout:   cfg.Radio.AckTimeout,
	}, dev, publisher, roster, gatewayMetrics, zlog)

	if err := receiver.Init(ctx); err != nil {
		return err
	}

	ops := server.NewOpsServer(cfg.Ops.Addr, reg, zlog, transport.Check)
	if err := ops.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Stop(shutdownCtx); err != nil {
			zlog.Warn("Failed to stop ops server", zap.Error(err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roster.Watch(ctx, cfg.Gateway.StatsInterval, cfg.Gateway.NodeSilenceTimeout, zlog)
		return nil
	})
	g.Go(func() error {
		return receiver.Run(ctx)
	})

	zlog.Info("Gateway is running",
		zap.Int("frequency_hz", cfg.Radio.FrequencyHz),
		zap.String("ops_addr", ops.Addr()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	zlog.Info("Shutting down gracefully...")
	return nil
}
