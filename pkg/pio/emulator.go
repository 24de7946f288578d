package pio

import (
	"context"
	"sync"
	"time"
)

// Edge is a level change of the side-set pin.
type Edge struct {
	Cycle uint64
	High  bool
}

// maxEdges bounds the edge trace kept by an Emulator.
const maxEdges = 1024

// Emulator is a cycle-level software model of a single state machine running
// one program. It executes one instruction per cycle (plus any delay cycles),
// drives one side-set pin and records its edges.
//
// The emulator is safe for concurrent use, so a driver can talk to it while
// Run advances it in the background.
type Emulator struct {
	mu sync.Mutex

	prog     Program
	instr    []uint16
	loaded   bool
	enabled  bool
	pc       uint8
	delay    uint8
	x, y     uint32
	isr, osr uint32
	pin      bool
	cycle    uint64
	tx       []uint32
	edges    []Edge
}

// NewEmulator returns an unconfigured, disabled state machine.
func NewEmulator() *Emulator {
	return &Emulator{tx: make([]uint32, 0, FIFODepth)}
}

// Configure loads the program at offset 0 and resets the machine. The machine
// is left disabled.
func (e *Emulator) Configure(cfg Config) error {
	if err := cfg.Program.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.prog = cfg.Program
	e.instr = cfg.Program.Relocate(0)
	e.loaded = true
	e.enabled = false
	e.pc = cfg.Program.WrapTarget
	e.delay = 0
	e.x, e.y, e.isr, e.osr = 0, 0, 0, 0
	e.tx = e.tx[:0]
	e.setPin(false)
	return nil
}

// SetEnabled starts or stops instruction execution. Registers, FIFO and pin
// level are retained.
func (e *Emulator) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled && e.loaded
	e.mu.Unlock()
}

// Enabled reports whether the machine is running.
func (e *Emulator) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// TxEmpty reports whether the TX FIFO is empty.
func (e *Emulator) TxEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tx) == 0
}

// TxFull reports whether the TX FIFO is full.
func (e *Emulator) TxFull() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tx) == FIFODepth
}

// TxLevel returns the number of queued words.
func (e *Emulator) TxLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tx)
}

// Put queues v unless the FIFO is full.
func (e *Emulator) Put(v uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tx) == FIFODepth {
		return false
	}
	e.tx = append(e.tx, v)
	return true
}

// ClearTx drops all queued words.
func (e *Emulator) ClearTx() {
	e.mu.Lock()
	e.tx = e.tx[:0]
	e.mu.Unlock()
}

// Exec runs instr once, outside the normal program flow. A jump taken by the
// instruction moves the program counter.
func (e *Emulator) Exec(instr uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execute(instr, false)
}

// Tick advances the clock by n cycles.
func (e *Emulator) Tick(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for range n {
		e.step()
	}
}

// Run advances the emulator in real time at roughly hz cycles per second
// until ctx is done.
func (e *Emulator) Run(ctx context.Context, hz uint32, resolution time.Duration) {
	if resolution <= 0 {
		resolution = time.Millisecond
	}
	cycles := int(uint64(hz) * uint64(resolution) / uint64(time.Second))
	if cycles < 1 {
		cycles = 1
	}

	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(cycles)
		}
	}
}

// Cycle returns the number of elapsed cycles.
func (e *Emulator) Cycle() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}

// Pin returns the current level of the side-set pin.
func (e *Emulator) Pin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pin
}

// Registers returns X, Y, ISR and OSR.
func (e *Emulator) Registers() (x, y, isr, osr uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.x, e.y, e.isr, e.osr
}

// Edges returns a copy of the recorded pin edges, oldest first.
func (e *Emulator) Edges() []Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Edge(nil), e.edges...)
}

// ResetEdges clears the edge trace.
func (e *Emulator) ResetEdges() {
	e.mu.Lock()
	e.edges = e.edges[:0]
	e.mu.Unlock()
}

func (e *Emulator) step() {
	e.cycle++
	if !e.enabled {
		return
	}
	if e.delay > 0 {
		e.delay--
		return
	}

	pc := e.pc
	instr := e.instr[pc]
	jumped, stalled := e.execute(instr, true)
	if stalled {
		return
	}
	if !jumped {
		if pc == e.prog.Wrap {
			e.pc = e.prog.WrapTarget
		} else {
			e.pc = (pc + 1) % uint8(len(e.instr))
		}
	}
}

// execute performs instr and reports whether it changed the program counter
// and whether it stalled. Delay cycles only apply to program instructions.
func (e *Emulator) execute(instr uint16, program bool) (jumped, stalled bool) {
	sideEnabled, side, delay := e.prog.SideSet.Decode(instr)
	if sideEnabled {
		e.setPin(side&1 != 0)
	}

	switch instr & opMask {
	case opJmp:
		cond := JmpCond(instr>>5) & 7
		if e.condition(cond) {
			e.pc = uint8(instr & 0x1f)
			jumped = true
		}

	case opPull:
		if instr&(1<<7) == 0 {
			// push is not modelled
			break
		}
		block := instr&(1<<5) != 0
		switch {
		case len(e.tx) > 0:
			e.osr = e.tx[0]
			e.tx = append(e.tx[:0], e.tx[1:]...)
		case block:
			return false, true
		default:
			e.osr = e.x
		}

	case opMov:
		v := e.source(instr & 7)
		switch MovOp(instr>>3) & 3 {
		case MovInvert:
			v = ^v
		case MovReverse:
			v = reverse(v)
		}
		if e.store(instr>>5&7, v, movDest) {
			jumped = true
		}

	case opOut:
		count := uint32(instr & 0x1f)
		if count == 0 {
			count = 32
		}
		var v uint32
		if count == 32 {
			v, e.osr = e.osr, 0
		} else {
			v = e.osr & (1<<count - 1)
			e.osr >>= count
		}
		if e.store(instr>>5&7, v, outDest) {
			jumped = true
		}

	case opSet:
		if e.store(instr>>5&7, uint32(instr&0x1f), setDest) {
			jumped = true
		}

	default:
		// wait, in and irq are not used by the drivers in this module
	}

	if program {
		e.delay = delay
	}
	return jumped, false
}

func (e *Emulator) condition(c JmpCond) bool {
	switch c {
	case Always:
		return true
	case XZero:
		return e.x == 0
	case XDec:
		nz := e.x != 0
		e.x--
		return nz
	case YZero:
		return e.y == 0
	case YDec:
		nz := e.y != 0
		e.y--
		return nz
	case XNotY:
		return e.x != e.y
	default:
		return false
	}
}

func (e *Emulator) source(code uint16) uint32 {
	switch code {
	case movSrc[DestPins]:
		if e.pin {
			return 1
		}
		return 0
	case movSrc[DestX]:
		return e.x
	case movSrc[DestY]:
		return e.y
	case movSrc[DestISR]:
		return e.isr
	case movSrc[DestOSR]:
		return e.osr
	default:
		return 0
	}
}

// store writes v to the operand whose code in table is code and reports
// whether the program counter was written.
func (e *Emulator) store(code uint16, v uint32, table map[Dest]uint16) bool {
	for dst, c := range table {
		if c != code {
			continue
		}
		switch dst {
		case DestPins:
			e.setPin(v&1 != 0)
		case DestX:
			e.x = v
		case DestY:
			e.y = v
		case DestISR:
			e.isr = v
		case DestOSR:
			e.osr = v
		case DestPC:
			e.pc = uint8(v & 0x1f)
			return true
		}
		return false
	}
	return false
}

func (e *Emulator) setPin(high bool) {
	if e.pin == high {
		return
	}
	e.pin = high
	if len(e.edges) == maxEdges {
		e.edges = append(e.edges[:0], e.edges[1:]...)
	}
	e.edges = append(e.edges, Edge{Cycle: e.cycle, High: high})
}

func reverse(v uint32) uint32 {
	var r uint32
	for range 32 {
		r = r<<1 | v&1
		v >>= 1
	}
	return r
}
