package pwm

import (
	"testing"
	"time"

	"github.com/itohio/emgarm/pkg/pio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 3 MHz gives one counter step per microsecond.
const testClock = 3_000_000

func attach(t *testing.T) (*Generator, *pio.Emulator) {
	t.Helper()
	emu := pio.NewEmulator()
	g, err := Attach(emu, 2, testClock, WithYield(func() { emu.Tick(50) }))
	require.NoError(t, err)
	return g, emu
}

func highTimes(edges []pio.Edge) []uint64 {
	var out []uint64
	var rise uint64
	seen := false
	for _, e := range edges {
		switch {
		case e.High:
			rise, seen = e.Cycle, true
		case seen:
			out = append(out, e.Cycle-rise)
			seen = false
		}
	}
	return out
}

func TestAttach_Errors(t *testing.T) {
	_, err := Attach(pio.NewEmulator(), 2, 1000)
	assert.Error(t, err)
}

func TestToCycles(t *testing.T) {
	g, err := Attach(pio.NewEmulator(), 2, 125_000_000)
	require.NoError(t, err)

	tests := []struct {
		in   time.Duration
		want uint32
	}{
		{0, 0},
		{-time.Millisecond, 0},
		{time.Microsecond, 41},
		{1500 * time.Microsecond, 62500},
		{20 * time.Millisecond, 833333},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.ToCycles(tt.in), tt.in.String())
	}
}

func TestGenerator_StartRequiresPeriod(t *testing.T) {
	g, _ := attach(t)
	assert.Error(t, g.Start())
	assert.Error(t, g.SetPeriod(0))
}

func TestGenerator_Waveform(t *testing.T) {
	g, emu := attach(t)

	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	require.NoError(t, g.Write(200*time.Microsecond))
	require.NoError(t, g.Start())
	assert.True(t, emu.Enabled())

	emu.Tick(5 * 3006)

	highs := highTimes(emu.Edges())
	require.NotEmpty(t, highs)
	for _, h := range highs {
		// 200 steps of 3 cycles at 1 step/µs.
		assert.Equal(t, uint64(3*200+2), h)
	}
	assert.Equal(t, 200*time.Microsecond, g.Level())
	assert.Equal(t, 1000*time.Microsecond, g.Period())
}

func TestGenerator_WriteAppliesAtPeriodBoundary(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	require.NoError(t, g.Write(100*time.Microsecond))
	require.NoError(t, g.Start())

	// Land inside the first pulse, then change the width.
	emu.Tick(2950)
	require.True(t, emu.Pin())
	require.NoError(t, g.Write(400*time.Microsecond))
	emu.Tick(4 * 3006)

	highs := highTimes(emu.Edges())
	require.GreaterOrEqual(t, len(highs), 3)
	assert.Equal(t, uint64(302), highs[0])
	for _, h := range highs[1:] {
		assert.Equal(t, uint64(1202), h)
	}
}

func TestGenerator_StopKeepsTiming(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(500*time.Microsecond))
	require.NoError(t, g.Write(50*time.Microsecond))
	require.NoError(t, g.Start())
	emu.Tick(3 * 1506)

	require.NoError(t, g.Stop())
	assert.False(t, emu.Enabled())
	emu.ResetEdges()
	emu.Tick(5000)
	assert.Empty(t, emu.Edges())

	require.NoError(t, g.Start())
	emu.Tick(4 * 1506)
	highs := highTimes(emu.Edges())
	require.NotEmpty(t, highs)
	assert.Equal(t, uint64(152), highs[len(highs)-1])
}

func TestGenerator_WriteWhileStoppedKeepsLatest(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(500*time.Microsecond))

	for _, us := range []time.Duration{10, 20, 30, 40, 50, 60} {
		require.NoError(t, g.Write(us*time.Microsecond))
	}
	assert.Equal(t, 1, emu.TxLevel(), "stale levels are dropped")

	require.NoError(t, g.Start())
	emu.Tick(3 * 1506)
	highs := highTimes(emu.Edges())
	require.NotEmpty(t, highs)
	assert.Equal(t, uint64(3*60+2), highs[0])
}

func TestGenerator_SetPeriodWhileStoppedKeepsLevel(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	require.NoError(t, g.Write(200*time.Microsecond))
	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	assert.Equal(t, 1, emu.TxLevel())

	require.NoError(t, g.Start())
	emu.Tick(5 * 3006)

	highs := highTimes(emu.Edges())
	require.NotEmpty(t, highs)
	for _, h := range highs {
		assert.Equal(t, uint64(3*200+2), h)
	}
	assert.Equal(t, 200*time.Microsecond, g.Level())
}

func TestGenerator_SetPeriodBeforeWriteQueuesNothing(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	assert.True(t, emu.TxEmpty())
}

func TestGenerator_WriteWaitsWhenRunningAndFull(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(100*time.Microsecond))
	require.NoError(t, g.Start())

	for range pio.FIFODepth {
		require.NoError(t, g.Write(10*time.Microsecond))
	}
	require.True(t, emu.TxFull())

	before := emu.Cycle()
	require.NoError(t, g.Write(20*time.Microsecond))
	assert.Greater(t, emu.Cycle(), before, "the write yielded until a period consumed a level")
}

func TestGenerator_WriteTimesOut(t *testing.T) {
	emu := pio.NewEmulator()
	g, err := Attach(emu, 2, testClock, WithYield(func() {}), WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, g.SetPeriod(100*time.Microsecond))
	require.NoError(t, g.Start())

	for range pio.FIFODepth {
		require.NoError(t, g.Write(10*time.Microsecond))
	}
	assert.ErrorIs(t, g.Write(20*time.Microsecond), ErrBusy)
}

func TestGenerator_SetPeriodWhileRunning(t *testing.T) {
	g, emu := attach(t)
	require.NoError(t, g.SetPeriod(1000*time.Microsecond))
	require.NoError(t, g.Write(100*time.Microsecond))
	require.NoError(t, g.Start())
	emu.Tick(3006)

	require.NoError(t, g.Write(100*time.Microsecond))
	require.NoError(t, g.SetPeriod(500*time.Microsecond))
	assert.True(t, emu.Enabled(), "enable state restored")
	assert.True(t, emu.TxEmpty(), "pending write drained before the period changed")

	_, _, isr, _ := emu.Registers()
	assert.Equal(t, uint32(500), isr)
}
