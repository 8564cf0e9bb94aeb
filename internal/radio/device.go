package radio

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Device is register-level access to a transceiver. Only the receive loop
// may hold it.
type Device interface {
	ReadRegister(addr byte) (byte, error)
	WriteRegister(addr, value byte) error
	Reset(ctx context.Context) error
	Close() error
}

const (
	spiWriteBit  = 0x80
	spiClock     = 5 * physic.MegaHertz
	resetHoldFor = 100 * time.Millisecond
)

// SPIDevice drives an SX127x over SPI with a GPIO reset line
type SPIDevice struct {
	port  spi.PortCloser
	conn  spi.Conn
	reset gpio.PinIO
}

// OpenSPI opens the SPI port (e.g. "SPI0.0" or "" for the first one) and
// claims the reset pin (e.g. "GPIO25")
func OpenSPI(portName, resetPin string) (*SPIDevice, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", portName, err)
	}

	conn, err := port.Connect(spiClock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure SPI port: %w", err)
	}

	pin := gpioreg.ByName(resetPin)
	if pin == nil {
		port.Close()
		return nil, fmt.Errorf("reset pin %q not found", resetPin)
	}

	return &SPIDevice{port: port, conn: conn, reset: pin}, nil
}

// ReadRegister reads one register
func (d *SPIDevice) ReadRegister(addr byte) (byte, error) {
	w := []byte{addr &^ spiWriteBit, 0}
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("read register 0x%02X: %w", addr, err)
	}
	return r[1], nil
}

// WriteRegister writes one register
func (d *SPIDevice) WriteRegister(addr, value byte) error {
	w := []byte{addr | spiWriteBit, value}
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return fmt.Errorf("write register 0x%02X: %w", addr, err)
	}
	return nil
}

// Reset pulses the reset line low then high
func (d *SPIDevice) Reset(ctx context.Context) error {
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to drive reset low: %w", err)
	}
	if err := sleepCtx(ctx, resetHoldFor); err != nil {
		return err
	}
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to drive reset high: %w", err)
	}
	return sleepCtx(ctx, resetHoldFor)
}

// Close releases the SPI port
func (d *SPIDevice) Close() error {
	return d.port.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
