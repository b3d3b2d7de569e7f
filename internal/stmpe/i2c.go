package stmpe

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddress is the controller's usual 7-bit bus address.
const DefaultAddress = 0x42

// I2CBus talks to the controller through a host I2C adapter.
type I2CBus struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

// OpenI2C initialises the host drivers and opens the named bus ("" selects
// the first one found).
func OpenI2C(name string, addr uint16) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return &I2CBus{
		bus: bus,
		dev: &i2c.Dev{Bus: bus, Addr: addr},
	}, nil
}

// Tx performs one combined transfer.
func (b *I2CBus) Tx(w, r []byte) error {
	return b.dev.Tx(w, r)
}

// Close releases the bus.
func (b *I2CBus) Close() error {
	return b.bus.Close()
}
