package emg

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/itohio/emgarm/pkg/bus"
	"github.com/itohio/emgarm/pkg/filter"
	"github.com/itohio/emgarm/pkg/spectrum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedADC returns a constant per channel and fails the listed reads.
type scriptedADC struct {
	mu     sync.Mutex
	values []uint16
	fail   map[int]int // channel -> remaining failures
	reads  int
}

func (s *scriptedADC) Read(ch int) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.fail[ch] > 0 {
		s.fail[ch]--
		return 0, errors.New("conversion timeout")
	}
	return s.values[ch], nil
}

func (s *scriptedADC) set(ch int, v uint16) {
	s.mu.Lock()
	s.values[ch] = v
	s.mu.Unlock()
}

func passthrough() filter.Options {
	opts := filter.DefaultOptions()
	opts.Notch, opts.Lowpass, opts.Highpass = false, false, false
	return opts
}

func newAcquirer(t *testing.T, adc ADC, channels, window, capacity, retries int, logs *bytes.Buffer) (*Acquirer, *bus.Bus[spectrum.FeatureVector]) {
	t.Helper()
	cond, err := filter.NewConditioner(channels, passthrough())
	require.NoError(t, err)
	ext, err := spectrum.New(window, channels)
	require.NoError(t, err)
	out := bus.New[spectrum.FeatureVector](capacity)
	if logs == nil {
		logs = &bytes.Buffer{}
	}

	a, err := NewAcquirer(adc, cond, ext, out, AcquirerOptions{Retries: retries, Logger: log.New(logs, "", 0)})
	require.NoError(t, err)
	return a, out
}

func TestNewAcquirer_Errors(t *testing.T) {
	cond, err := filter.NewConditioner(2, passthrough())
	require.NoError(t, err)
	ext, err := spectrum.New(8, 3)
	require.NoError(t, err)
	out := bus.New[spectrum.FeatureVector](1)

	_, err = NewAcquirer(&scriptedADC{}, cond, ext, out, AcquirerOptions{})
	assert.Error(t, err, "channel counts disagree")

	_, err = NewAcquirer(nil, cond, ext, out, AcquirerOptions{})
	assert.Error(t, err)
}

func TestAcquirer_EmitsOncePerWindow(t *testing.T) {
	adc := &scriptedADC{values: []uint16{1, 2, 3}}
	a, out := newAcquirer(t, adc, 3, 8, 4, 0, nil)
	ctx := context.Background()

	for range 7 {
		require.NoError(t, a.Step(ctx))
	}
	assert.Equal(t, 0, out.Len())

	require.NoError(t, a.Step(ctx))
	require.Equal(t, 1, out.Len())
	assert.Equal(t, uint64(8), a.Ticks())
	assert.Equal(t, uint64(1), a.Emitted())

	fv, err := out.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, fv, 3*8/2)
	// Unfiltered constants: DC bin = window * value.
	assert.InDelta(t, 8, fv[0], 1e-9)
	assert.InDelta(t, 16, fv[4], 1e-9)
	assert.InDelta(t, 24, fv[8], 1e-9)
}

func TestAcquirer_RetryRecoversTransientFailure(t *testing.T) {
	adc := &scriptedADC{values: []uint16{100}, fail: map[int]int{0: 1}}
	var logs bytes.Buffer
	a, _ := newAcquirer(t, adc, 1, 4, 1, 1, &logs)

	require.NoError(t, a.Step(context.Background()))
	assert.Equal(t, 2, adc.reads)
	assert.Zero(t, a.ReadFailures())
	assert.Empty(t, logs.String())
}

func TestAcquirer_HoldsLastSampleOnPersistentFailure(t *testing.T) {
	adc := &scriptedADC{values: []uint16{10}}
	var logs bytes.Buffer
	a, out := newAcquirer(t, adc, 1, 4, 1, 1, &logs)
	ctx := context.Background()

	require.NoError(t, a.Step(ctx))
	require.NoError(t, a.Step(ctx))

	// Two more ticks fail completely: both attempts error out.
	adc.fail = map[int]int{0: 4}
	adc.set(0, 99)
	require.NoError(t, a.Step(ctx))
	require.NoError(t, a.Step(ctx))

	assert.Equal(t, uint64(2), a.ReadFailures())
	assert.Contains(t, logs.String(), "holding last sample 10")

	fv, err := out.Receive(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40, fv[0], 1e-9, "held samples repeat the last good reading")
}

func TestAcquirer_Backpressure(t *testing.T) {
	adc := &scriptedADC{values: []uint16{5}}
	a, out := newAcquirer(t, adc, 1, 2, 1, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Two windows: the first fills the bus, the second must wait.
	for range 3 {
		require.NoError(t, a.Step(ctx))
	}
	err := a.Step(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, uint64(1), a.Emitted())
}

func TestAcquirer_RunWithInterval(t *testing.T) {
	m, err := NewMock(nil, 3, 1000, 60)
	require.NoError(t, err)

	cond, err := filter.NewConditioner(3, filter.DefaultOptions())
	require.NoError(t, err)
	ext, err := spectrum.New(4, 3)
	require.NoError(t, err)
	out := bus.New[spectrum.FeatureVector](64)
	a, err := NewAcquirer(m, cond, ext, out, AcquirerOptions{Interval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Greater(t, a.Ticks(), uint64(4))
	assert.Greater(t, out.Len(), 0)
}
