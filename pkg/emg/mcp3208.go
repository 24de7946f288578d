package emg

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MCP3208 reads an 8-channel 12-bit SPI converter, for running the
// acquisition on a Linux board.
type MCP3208 struct {
	mu   sync.Mutex
	port spi.PortCloser
	conn spi.Conn
	tx   [3]byte
	rx   [3]byte
}

// OpenMCP3208 opens the SPI port by name ("" picks the first one) and
// connects at the given clock in mode 0.
func OpenMCP3208(name string, clock physic.Frequency) (*MCP3208, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi port %q: %w", name, err)
	}
	c, err := p.Connect(clock, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to connect to mcp3208: %w", err)
	}
	return &MCP3208{port: p, conn: c}, nil
}

// NewMCP3208 wraps an already connected SPI device.
func NewMCP3208(c spi.Conn) *MCP3208 {
	return &MCP3208{conn: c}
}

// Read performs a single-ended conversion on channel 0..7.
func (m *MCP3208) Read(channel int) (uint16, error) {
	if channel < 0 || channel > 7 {
		return 0, fmt.Errorf("mcp3208 channel %d out of range", channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// start bit, single-ended, D2 | D1 D0, then 12 result bits.
	m.tx = [3]byte{0x06 | byte(channel>>2), byte(channel&3) << 6, 0}
	if err := m.conn.Tx(m.tx[:], m.rx[:]); err != nil {
		return 0, fmt.Errorf("mcp3208 read channel %d: %w", channel, err)
	}
	return uint16(m.rx[1]&0x0f)<<8 | uint16(m.rx[2]), nil
}

// Close releases the SPI port if this reader opened it.
func (m *MCP3208) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}
