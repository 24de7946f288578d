// Package pio describes RP2040 PIO programs and the state machines that run
// them.
//
// Instructions are encoded exactly as the hardware expects them, so the same
// Program drives the register backend on the board and the Emulator used on
// hosts and in tests.
package pio

import "fmt"

// Opcodes occupy bits 15..13.
const (
	opJmp  uint16 = 0 << 13
	opWait uint16 = 1 << 13
	opIn   uint16 = 2 << 13
	opOut  uint16 = 3 << 13
	opPull uint16 = 4 << 13 // push/pull share the opcode; bit 7 selects pull
	opMov  uint16 = 5 << 13
	opIRQ  uint16 = 6 << 13
	opSet  uint16 = 7 << 13

	opMask uint16 = 7 << 13
)

// JmpCond is the condition field of JMP.
type JmpCond uint16

const (
	Always JmpCond = iota
	XZero
	XDec
	YZero
	YDec
	XNotY
	Pin
	OSRNotEmpty
)

// Dest is a source or destination operand of MOV, OUT and SET.
type Dest uint16

// Destination codes. The numbering differs between instructions, so each
// encoder maps them explicitly.
const (
	DestPins Dest = iota
	DestX
	DestY
	DestNull
	DestPinDirs
	DestPC
	DestISR
	DestOSR
	DestExec
	DestStatus
)

var (
	movDest = map[Dest]uint16{DestPins: 0, DestX: 1, DestY: 2, DestExec: 4, DestPC: 5, DestISR: 6, DestOSR: 7}
	movSrc  = map[Dest]uint16{DestPins: 0, DestX: 1, DestY: 2, DestNull: 3, DestStatus: 5, DestISR: 6, DestOSR: 7}
	outDest = map[Dest]uint16{DestPins: 0, DestX: 1, DestY: 2, DestNull: 3, DestPinDirs: 4, DestPC: 5, DestISR: 6, DestExec: 7}
	setDest = map[Dest]uint16{DestPins: 0, DestX: 1, DestY: 2, DestPinDirs: 4}
)

// MovOp is the operation applied by MOV.
type MovOp uint16

const (
	MovNone MovOp = iota
	MovInvert
	MovReverse
)

// Jmp encodes "jmp cond addr".
func Jmp(cond JmpCond, addr uint8) uint16 {
	return opJmp | uint16(cond)<<5 | uint16(addr&0x1f)
}

// Mov encodes "mov dst, op src".
func Mov(dst Dest, op MovOp, src Dest) uint16 {
	return opMov | movDest[dst]<<5 | uint16(op&3)<<3 | movSrc[src]
}

// Nop is "mov y, y".
func Nop() uint16 {
	return Mov(DestY, MovNone, DestY)
}

// Pull encodes "pull [ifempty] [block|noblock]".
func Pull(ifEmpty, block bool) uint16 {
	v := opPull | 1<<7
	if ifEmpty {
		v |= 1 << 6
	}
	if block {
		v |= 1 << 5
	}
	return v
}

// Out encodes "out dst, count". A count of 32 is stored as 0.
func Out(dst Dest, count uint8) uint16 {
	return opOut | outDest[dst]<<5 | uint16(count&0x1f)
}

// Set encodes "set dst, data".
func Set(dst Dest, data uint8) uint16 {
	return opSet | setDest[dst]<<5 | uint16(data&0x1f)
}

// SideSet describes how the delay/side-set field (bits 12..8) is split.
type SideSet struct {
	// Bits is the number of side-set value bits.
	Bits int
	// Optional reserves the top bit as a per-instruction enable.
	Optional bool
}

// Count is the number of field bits taken from the delay field, including
// the enable bit. It is what PINCTRL.SIDESET_COUNT expects.
func (s SideSet) Count() int {
	if s.Optional {
		return s.Bits + 1
	}
	return s.Bits
}

// Side returns instr with a side-set value applied.
func (s SideSet) Side(instr uint16, value uint8) uint16 {
	shift := 13 - s.Count()
	field := uint16(value) & (1<<s.Bits - 1)
	if s.Optional {
		field |= 1 << s.Bits
	}
	return instr | field<<shift
}

// Decode splits the delay/side-set field into (enabled, value, delay).
func (s SideSet) Decode(instr uint16) (bool, uint8, uint8) {
	field := (instr >> 8) & 0x1f
	delayBits := 5 - s.Count()
	delay := uint8(field & (1<<delayBits - 1))
	side := field >> delayBits

	enabled := s.Bits > 0
	if s.Optional {
		enabled = side&(1<<s.Bits) != 0
		side &^= 1 << s.Bits
	}
	return enabled, uint8(side), delay
}

// Program is a relocatable PIO program.
type Program struct {
	Name         string
	Instructions []uint16
	SideSet      SideSet
	WrapTarget   uint8
	Wrap         uint8
}

// Validate checks that the program fits the instruction memory and that the
// wrap points lie inside it.
func (p Program) Validate() error {
	n := len(p.Instructions)
	if n == 0 || n > 32 {
		return fmt.Errorf("program %q has %d instructions, want 1..32", p.Name, n)
	}
	if int(p.Wrap) >= n || p.WrapTarget > p.Wrap {
		return fmt.Errorf("program %q has invalid wrap %d..%d", p.Name, p.WrapTarget, p.Wrap)
	}
	if p.SideSet.Count() > 5 {
		return fmt.Errorf("program %q uses %d side-set bits", p.Name, p.SideSet.Count())
	}
	return nil
}

// Relocate returns the instructions with JMP targets moved by offset.
func (p Program) Relocate(offset uint8) []uint16 {
	out := make([]uint16, len(p.Instructions))
	for i, instr := range p.Instructions {
		if instr&opMask == opJmp {
			addr := (instr&0x1f + uint16(offset)) & 0x1f
			instr = instr&^0x1f | addr
		}
		out[i] = instr
	}
	return out
}

// pwmSideSet is one optional side-set bit driving the output pin.
var pwmSideSet = SideSet{Bits: 1, Optional: true}

// PWM is the servo pulse program. The period (in loop iterations) is held in
// ISR and the high level in the TX FIFO; each period it pulls the newest
// level without blocking, so an empty FIFO repeats the previous one.
//
//	.side_set 1 opt
//	    pull noblock    side 0
//	    mov x, osr
//	    mov y, isr
//	countloop:
//	    jmp x!=y noset
//	    jmp skip        side 1
//	noset:
//	    nop
//	skip:
//	    jmp y-- countloop
//
// The pin goes low at the start of each period and high once the countdown
// reaches the level, so every counter step is three cycles.
var PWM = Program{
	Name: "pwm",
	Instructions: []uint16{
		pwmSideSet.Side(Pull(false, false), 0),
		Mov(DestX, MovNone, DestOSR),
		Mov(DestY, MovNone, DestISR),
		Jmp(XNotY, 5),
		pwmSideSet.Side(Jmp(Always, 6), 1),
		Nop(),
		Jmp(YDec, 3),
	},
	SideSet:    pwmSideSet,
	WrapTarget: 0,
	Wrap:       6,
}

// CyclesPerStep is the number of clock cycles per PWM counter step.
const CyclesPerStep = 3
