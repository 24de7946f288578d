//go:build tinygo && rp2040

package pio

import (
	"device/rp"
	"machine"
	"runtime/volatile"
	"unsafe"
)

// Register bits used below.
const (
	fstatTxFull  = 16
	fstatTxEmpty = 24

	ctrlRestart    = 4
	ctrlClkRestart = 8

	execSideEn      = 1 << 30
	execWrapTopPos  = 12
	execWrapBotPos  = 7
	shiftFJoinRx    = 1 << 31
	pinSideSetCount = 29
	pinSetCount     = 26
	pinSideSetBase  = 10
	pinSetBase      = 5

	smStride = 0x18
)

// SM register offsets relative to SM0_CLKDIV.
const (
	regClkDiv    = 0x00
	regExecCtrl  = 0x04
	regShiftCtrl = 0x08
	regInstr     = 0x10
	regPinCtrl   = 0x14
)

// RP2040 drives one hardware state machine through the PIO registers.
//
// Every state machine loads its program at offset 0, so state machines of one
// block must share the same program.
type RP2040 struct {
	hw    *rp.PIO0_Type
	block uint8
	sm    uint8
}

var _ StateMachine = (*RP2040)(nil)

// NewRP2040 returns state machine sm (0..3) of PIO block (0 or 1).
func NewRP2040(block, sm uint8) *RP2040 {
	hw := rp.PIO0
	if block == 1 {
		hw = rp.PIO1
	}
	return &RP2040{hw: hw, block: block, sm: sm & 3}
}

func (s *RP2040) reg(offset uintptr) *volatile.Register32 {
	base := unsafe.Pointer(&s.hw.SM0_CLKDIV)
	return (*volatile.Register32)(unsafe.Add(base, uintptr(s.sm)*smStride+offset))
}

func (s *RP2040) instrMem(i int) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Add(unsafe.Pointer(&s.hw.INSTR_MEM0), 4*i))
}

func (s *RP2040) txf() *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Add(unsafe.Pointer(&s.hw.TXF0), 4*int(s.sm)))
}

// Configure loads the program, routes the pin to the PIO block and leaves the
// state machine stopped at the program start.
func (s *RP2040) Configure(cfg Config) error {
	p := cfg.Program
	if err := p.Validate(); err != nil {
		return err
	}

	s.SetEnabled(false)
	for i, instr := range p.Relocate(0) {
		s.instrMem(i).Set(uint32(instr))
	}

	s.reg(regClkDiv).Set(1 << 16)

	exec := uint32(p.Wrap)<<execWrapTopPos | uint32(p.WrapTarget)<<execWrapBotPos
	if p.SideSet.Optional {
		exec |= execSideEn
	}
	s.reg(regExecCtrl).Set(exec)

	pin := uint32(cfg.Pin)
	s.reg(regPinCtrl).Set(uint32(p.SideSet.Count())<<pinSideSetCount |
		1<<pinSetCount |
		pin<<pinSideSetBase |
		pin<<pinSetBase)

	mode := machine.PinPIO0
	if s.block == 1 {
		mode = machine.PinPIO1
	}
	machine.Pin(cfg.Pin).Configure(machine.PinConfig{Mode: mode})

	s.ClearTx()
	s.hw.CTRL.SetBits(1<<(ctrlRestart+s.sm) | 1<<(ctrlClkRestart+s.sm))
	s.Exec(Set(DestPinDirs, 1))
	s.Exec(Jmp(Always, p.WrapTarget))
	return nil
}

func (s *RP2040) SetEnabled(enabled bool) {
	if enabled {
		s.hw.CTRL.SetBits(1 << s.sm)
	} else {
		s.hw.CTRL.ClearBits(1 << s.sm)
	}
}

func (s *RP2040) Enabled() bool {
	return s.hw.CTRL.HasBits(1 << s.sm)
}

func (s *RP2040) TxEmpty() bool {
	return s.hw.FSTAT.HasBits(1 << (fstatTxEmpty + s.sm))
}

func (s *RP2040) TxFull() bool {
	return s.hw.FSTAT.HasBits(1 << (fstatTxFull + s.sm))
}

func (s *RP2040) Put(v uint32) bool {
	if s.TxFull() {
		return false
	}
	s.txf().Set(v)
	return true
}

// ClearTx flushes both FIFOs by toggling the RX join bit twice.
func (s *RP2040) ClearTx() {
	r := s.reg(regShiftCtrl)
	r.Set(r.Get() ^ shiftFJoinRx)
	r.Set(r.Get() ^ shiftFJoinRx)
}

func (s *RP2040) Exec(instr uint16) {
	s.reg(regInstr).Set(uint32(instr))
}
