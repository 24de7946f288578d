package pio

// Config binds a program to an output pin.
type Config struct {
	Program Program
	// Pin is used as both the side-set and the set base.
	Pin uint8
}

// StateMachine is one PIO state machine as seen by its driver.
type StateMachine interface {
	Configure(cfg Config) error
	SetEnabled(enabled bool)
	Enabled() bool

	// TxEmpty and TxFull report the TX FIFO state.
	TxEmpty() bool
	TxFull() bool
	// Put pushes v to the TX FIFO and reports false when it is full.
	Put(v uint32) bool
	// ClearTx drops everything queued in the TX FIFO.
	ClearTx()
	// Exec runs a single instruction immediately.
	Exec(instr uint16)
}

// FIFODepth is the depth of an unjoined TX FIFO.
const FIFODepth = 4

var _ StateMachine = (*Emulator)(nil)
