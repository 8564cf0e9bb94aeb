package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/protocol"
)

// ErrAckTimeout is returned when TX done is not raised before the ACK deadline
var ErrAckTimeout = errors.New("acknowledgment transmit timed out")

// Publisher hands envelopes to the broker
type Publisher interface {
	Publish(ctx context.Context, env *protocol.Envelope) error
}

// Observer is told about every acknowledged frame
type Observer interface {
	Observe(nodeID string, rssi int, snr float64, at time.Time)
}

const (
	modeSettle      = 50 * time.Millisecond
	standbySettle   = 5 * time.Millisecond
	ackPollInterval = time.Millisecond
)

// ReceiverConfig holds the per-gateway receive settings
type ReceiverConfig struct {
	GatewayID    string
	FrequencyHz  uint32
	Location     *time.Location
	PollInterval time.Duration
	AckTimeout   time.Duration
}

// Receiver owns the transceiver and runs the poll/ACK/relay loop
type Receiver struct {
	dev      Device
	relay    Publisher
	observer Observer
	metrics  *metrics.GatewayMetrics
	logger   *zap.Logger
	config   ReceiverConfig
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewReceiver creates a receiver. observer may be nil.
func NewReceiver(cfg ReceiverConfig, dev Device, relay Publisher, observer Observer, m *metrics.GatewayMetrics, logger *zap.Logger) *Receiver {
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 800 * time.Millisecond
	}

	return &Receiver{
		dev:      dev,
		relay:    relay,
		observer: observer,
		metrics:  m,
		logger:   logger.With(zap.String("gateway_id", cfg.GatewayID)),
		config:   cfg,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

type regWrite struct {
	addr  byte
	value byte
}

// Init resets the transceiver, programs the modem profile and enters
// continuous receive
func (r *Receiver) Init(ctx context.Context) error {
	if err := r.dev.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset radio: %w", err)
	}

	if err := r.dev.WriteRegister(RegOpMode, OpMode(ModeSleep)); err != nil {
		return err
	}
	r.sleep(modeSettle)
	if err := r.dev.WriteRegister(RegOpMode, OpMode(ModeStandby)); err != nil {
		return err
	}
	r.sleep(modeSettle)

	version, err := r.dev.ReadRegister(RegVersion)
	if err != nil {
		return fmt.Errorf("failed to read chip version: %w", err)
	}
	if version != ChipVersion {
		r.logger.Warn("Unexpected transceiver version",
			zap.Uint8("version", version),
			zap.Uint8("expected", ChipVersion),
		)
	} else {
		r.logger.Info("Transceiver detected", zap.Uint8("version", version))
	}

	frf := FrequencyBytes(r.config.FrequencyHz)
	err = r.writeAll([]regWrite{
		{RegFrfMsb, frf[0]},
		{RegFrfMid, frf[1]},
		{RegFrfLsb, frf[2]},
		{RegPaConfig, PaConfigBoost},
		{RegLna, LnaMaxGain},
		{RegFifoRxBaseAddr, 0x00},
		{RegFifoAddrPtr, 0x00},
		{RegModemConfig1, ModemConfig1},
		{RegModemConfig2, ModemConfig2},
		{RegModemConfig3, ModemConfig3},
		{RegSyncWord, SyncWord},
		{RegIrqFlags, IrqAll},
		{RegOpMode, OpMode(ModeRxContinuous)},
	})
	if err != nil {
		return fmt.Errorf("failed to configure radio: %w", err)
	}

	r.logger.Info("Radio listening", zap.Uint32("frequency_hz", r.config.FrequencyHz))
	return nil
}

// Run polls the transceiver until ctx is cancelled. Per-frame failures are
// logged and never stop the loop.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.standDown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		handled, err := r.PollOnce(ctx)
		if err != nil {
			r.metrics.RadioErrors.Inc()
			r.logger.Error("Radio error", zap.Error(err))
		}
		if !handled || err != nil {
			r.sleep(r.config.PollInterval)
		}
	}
}

// PollOnce services the IRQ register once. It reports whether any flag was
// set; the error is only non-nil for register access failures.
func (r *Receiver) PollOnce(ctx context.Context) (bool, error) {
	irq, err := r.dev.ReadRegister(RegIrqFlags)
	if err != nil {
		return false, err
	}
	if irq == 0 {
		return false, nil
	}

	if err := r.dev.WriteRegister(RegIrqFlags, irq); err != nil {
		return true, err
	}

	if irq&IrqPayloadCrcError != 0 {
		r.metrics.CRCErrors.Inc()
		r.logger.Warn("CRC error, frame dropped")
		return true, nil
	}
	if irq&IrqRxDone == 0 {
		return true, nil
	}

	raw, err := r.readPacket()
	if err != nil {
		return true, err
	}

	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		r.metrics.FramesDropped.WithLabelValues(dropReason(err)).Inc()
		r.logger.Warn("Frame dropped", zap.Error(err), zap.ByteString("raw", raw))
		return true, nil
	}

	// Link metrics belong to this reception; the ACK below retunes the modem.
	rssi, snr, err := r.readLinkMetrics()
	if err != nil {
		return true, err
	}
	receivedAt := r.now().In(r.config.Location)
	node := string(frame.Node)

	if err := r.sendAck(frame.Node); err != nil {
		if errors.Is(err, ErrAckTimeout) {
			r.metrics.AckTimeouts.Inc()
		} else {
			r.metrics.RadioErrors.Inc()
		}
		r.logger.Warn("Acknowledgment failed", zap.String("node_id", node), zap.Error(err))
	} else {
		r.metrics.AcksSent.Inc()
	}
	r.metrics.FramesReceived.Inc()

	r.logger.Info("Frame received",
		zap.String("node_id", node),
		zap.Int("rssi", rssi),
		zap.Float64("snr", snr),
		zap.ByteString("raw", raw),
	)

	if r.observer != nil {
		r.observer.Observe(node, rssi, snr, receivedAt)
	}

	env := protocol.NewEnvelope(r.config.GatewayID, rssi, snr, receivedAt, *frame)
	if err := r.relay.Publish(ctx, env); err != nil {
		r.metrics.RelayFailures.Inc()
		r.logger.Warn("Relay publish failed", zap.String("node_id", node), zap.Error(err))
	}

	return true, nil
}

func (r *Receiver) readPacket() ([]byte, error) {
	length, err := r.dev.ReadRegister(RegRxNbBytes)
	if err != nil {
		return nil, err
	}
	addr, err := r.dev.ReadRegister(RegFifoRxCurrentAddr)
	if err != nil {
		return nil, err
	}
	if err := r.dev.WriteRegister(RegFifoAddrPtr, addr); err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	for i := range payload {
		b, err := r.dev.ReadRegister(RegFifo)
		if err != nil {
			return nil, err
		}
		payload[i] = b
	}
	return payload, nil
}

func (r *Receiver) readLinkMetrics() (int, float64, error) {
	rawRSSI, err := r.dev.ReadRegister(RegPktRssiValue)
	if err != nil {
		return 0, 0, err
	}
	rawSNR, err := r.dev.ReadRegister(RegPktSnrValue)
	if err != nil {
		return 0, 0, err
	}
	return RSSI(rawRSSI), SNR(rawSNR), nil
}

// sendAck transmits ACK:<node> and always returns the modem to continuous
// receive, whether or not TX done was seen.
func (r *Receiver) sendAck(node protocol.NodeID) (err error) {
	msg := protocol.EncodeAck(node)

	if err := r.dev.WriteRegister(RegOpMode, OpMode(ModeStandby)); err != nil {
		return err
	}
	defer func() {
		if rerr := r.restoreRx(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	r.sleep(standbySettle)

	if err := r.writeAll([]regWrite{
		{RegFifoTxBaseAddr, 0x00},
		{RegFifoAddrPtr, 0x00},
	}); err != nil {
		return err
	}
	for _, b := range msg {
		if err := r.dev.WriteRegister(RegFifo, b); err != nil {
			return err
		}
	}
	if err := r.writeAll([]regWrite{
		{RegPayloadLength, byte(len(msg))},
		{RegIrqFlags, IrqAll},
		{RegOpMode, OpMode(ModeTx)},
	}); err != nil {
		return err
	}

	deadline := r.now().Add(r.config.AckTimeout)
	for {
		irq, err := r.dev.ReadRegister(RegIrqFlags)
		if err != nil {
			return err
		}
		if irq&IrqTxDone != 0 {
			return nil
		}
		if !r.now().Before(deadline) {
			return ErrAckTimeout
		}
		r.sleep(ackPollInterval)
	}
}

func (r *Receiver) restoreRx() error {
	return r.writeAll([]regWrite{
		{RegIrqFlags, IrqAll},
		{RegOpMode, OpMode(ModeRxContinuous)},
	})
}

func (r *Receiver) standDown() {
	if err := r.dev.WriteRegister(RegOpMode, OpMode(ModeSleep)); err != nil {
		r.logger.Warn("Failed to put radio to sleep", zap.Error(err))
	}
}

func (r *Receiver) writeAll(writes []regWrite) error {
	for _, w := range writes {
		if err := r.dev.WriteRegister(w.addr, w.value); err != nil {
			return err
		}
	}
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMissingNode):
		return "missing_node"
	case errors.Is(err, protocol.ErrNotJSONObject):
		return "not_json"
	default:
		return "invalid"
	}
}
