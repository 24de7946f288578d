package pio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPWM_Encoding(t *testing.T) {
	want := []uint16{0x9080, 0xa027, 0xa046, 0x00a5, 0x1806, 0xa042, 0x0083}
	assert.Equal(t, want, PWM.Instructions)
	require.NoError(t, PWM.Validate())
	assert.Equal(t, 2, PWM.SideSet.Count())
}

func TestEncoders(t *testing.T) {
	tests := []struct {
		name string
		got  uint16
		want uint16
	}{
		{"pull block", Pull(false, true), 0x80a0},
		{"pull ifempty noblock", Pull(true, false), 0x80c0},
		{"out isr 32", Out(DestISR, 32), 0x60c0},
		{"out x 8", Out(DestX, 8), 0x6028},
		{"set pindirs 1", Set(DestPinDirs, 1), 0xe081},
		{"set pins 0", Set(DestPins, 0), 0xe000},
		{"jmp always 0", Jmp(Always, 0), 0x0000},
		{"mov x ~null", Mov(DestX, MovInvert, DestNull), 0xa02b},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSideSet_Decode(t *testing.T) {
	ss := SideSet{Bits: 1, Optional: true}

	on, v, d := ss.Decode(ss.Side(Nop(), 1))
	assert.True(t, on)
	assert.Equal(t, uint8(1), v)
	assert.Zero(t, d)

	on, _, _ = ss.Decode(Nop())
	assert.False(t, on)

	// Three delay bits remain below the side-set field.
	on, _, d = ss.Decode(Nop() | 5<<8)
	assert.False(t, on)
	assert.Equal(t, uint8(5), d)
}

func TestProgram_Validate(t *testing.T) {
	assert.Error(t, Program{Name: "empty"}.Validate())
	assert.Error(t, Program{Name: "wrap", Instructions: []uint16{0}, Wrap: 1}.Validate())
	assert.Error(t, Program{Name: "order", Instructions: []uint16{0, 0}, WrapTarget: 1, Wrap: 0}.Validate())
	assert.Error(t, Program{Name: "long", Instructions: make([]uint16, 33)}.Validate())
}

func TestProgram_Relocate(t *testing.T) {
	moved := PWM.Relocate(8)
	assert.Equal(t, uint16(0x00a5+8), moved[3])
	assert.Equal(t, uint16(0x1806+8), moved[4])
	assert.Equal(t, uint16(0x0083+8), moved[6])
	assert.Equal(t, PWM.Instructions[0], moved[0], "non-jumps are untouched")
}

// startPWM loads the program, sets the period through ISR and queues level.
func startPWM(t *testing.T, period, level uint32) *Emulator {
	t.Helper()
	e := NewEmulator()
	require.NoError(t, e.Configure(Config{Program: PWM, Pin: 2}))

	require.True(t, e.Put(period))
	e.Exec(Pull(false, false))
	e.Exec(Out(DestISR, 32))
	_, _, isr, _ := e.Registers()
	require.Equal(t, period, isr)

	require.True(t, e.Put(level))
	e.SetEnabled(true)
	return e
}

func pulses(edges []Edge) (periods, highs []uint64) {
	var rises, falls []uint64
	for _, e := range edges {
		if e.High {
			rises = append(rises, e.Cycle)
		} else {
			falls = append(falls, e.Cycle)
		}
	}
	for i := 1; i < len(rises); i++ {
		periods = append(periods, rises[i]-rises[i-1])
	}
	for _, r := range rises {
		for _, f := range falls {
			if f > r {
				highs = append(highs, f-r)
				break
			}
		}
	}
	return periods, highs
}

func TestEmulator_PWMWaveform(t *testing.T) {
	tests := []struct {
		name   string
		period uint32
		level  uint32
	}{
		{"40 percent", 100, 40},
		{"short pulse", 100, 1},
		{"servo like", 2000, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startPWM(t, tt.period, tt.level)
			e.Tick(int(6 * (3*tt.period + 6)))

			periods, highs := pulses(e.Edges())
			require.NotEmpty(t, periods)
			require.NotEmpty(t, highs)
			for _, p := range periods {
				assert.Equal(t, uint64(3*tt.period+6), p)
			}
			for _, h := range highs {
				assert.Equal(t, uint64(CyclesPerStep*tt.level+2), h)
			}
		})
	}
}

func TestEmulator_EmptyFIFORepeatsLevel(t *testing.T) {
	e := startPWM(t, 50, 10)
	e.Tick(20 * (3*50 + 6))

	assert.True(t, e.TxEmpty())
	_, highs := pulses(e.Edges())
	require.Greater(t, len(highs), 10)
	for _, h := range highs {
		assert.Equal(t, uint64(32), h)
	}
}

func TestEmulator_LevelChangesAtPeriodBoundary(t *testing.T) {
	const period = 100
	e := startPWM(t, period, 20)

	// Queue a new level in the middle of the first pulse.
	e.Tick(3*period + 6 - 30)
	require.True(t, e.Pin())
	require.True(t, e.Put(60))
	e.Tick(4 * (3*period + 6))

	_, highs := pulses(e.Edges())
	require.GreaterOrEqual(t, len(highs), 3)
	assert.Equal(t, uint64(62), highs[0], "pulse in flight keeps its width")
	for _, h := range highs[1:] {
		assert.Equal(t, uint64(182), h)
	}
}

func TestEmulator_DisabledHoldsState(t *testing.T) {
	e := startPWM(t, 100, 40)
	e.Tick(250)
	level := e.Pin()
	e.SetEnabled(false)
	assert.False(t, e.Enabled())

	before := len(e.Edges())
	e.Tick(5000)
	assert.Equal(t, before, len(e.Edges()))
	assert.Equal(t, level, e.Pin())
	assert.Equal(t, uint64(5250), e.Cycle())
}

func TestEmulator_FIFO(t *testing.T) {
	e := NewEmulator()
	require.NoError(t, e.Configure(Config{Program: PWM}))

	assert.True(t, e.TxEmpty())
	for i := range FIFODepth {
		assert.True(t, e.Put(uint32(i)))
	}
	assert.True(t, e.TxFull())
	assert.False(t, e.Put(99))
	assert.Equal(t, FIFODepth, e.TxLevel())

	e.Exec(Pull(false, false))
	_, _, _, osr := e.Registers()
	assert.Equal(t, uint32(0), osr)

	e.ClearTx()
	assert.True(t, e.TxEmpty())
}

func TestEmulator_SetBeforeEnableIsIgnored(t *testing.T) {
	e := NewEmulator()
	e.SetEnabled(true)
	assert.False(t, e.Enabled(), "an unconfigured machine cannot run")
}

func TestEmulator_Run(t *testing.T) {
	e := startPWM(t, 100, 40)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.Run(ctx, 1_000_000, time.Millisecond)

	assert.Greater(t, e.Cycle(), uint64(0))
	assert.NotEmpty(t, e.Edges())
}

func TestReverse(t *testing.T) {
	assert.Equal(t, uint32(0x80000000), reverse(1))
	assert.Equal(t, uint32(1), reverse(0x80000000))
	assert.Equal(t, uint32(0xffffffff), reverse(0xffffffff))
}
