package pwm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type fakePin struct {
	gpio.PinOut

	duty   gpio.Duty
	freq   physic.Frequency
	level  gpio.Level
	calls  int
	halted int
}

func (p *fakePin) String() string { return "FAKE0" }

func (p *fakePin) Halt() error {
	p.halted++
	return nil
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return nil
}

func (p *fakePin) PWM(duty gpio.Duty, f physic.Frequency) error {
	p.duty, p.freq = duty, f
	p.calls++
	return nil
}

func TestPeriph_Duty(t *testing.T) {
	pin := &fakePin{}
	p := NewPeriph(pin)

	require.NoError(t, p.SetPeriod(20*time.Millisecond))
	require.NoError(t, p.Write(1500*time.Microsecond))
	assert.Zero(t, pin.calls, "nothing is driven before Start")

	require.NoError(t, p.Start())
	assert.Equal(t, 1, pin.calls)
	assert.Equal(t, gpio.Duty(int64(gpio.DutyMax)*15/200), pin.duty)
	assert.Equal(t, 50*physic.Hertz, pin.freq)

	require.NoError(t, p.Write(2500*time.Microsecond))
	assert.Equal(t, 2, pin.calls)
	assert.Equal(t, p.Duty(), pin.duty)
}

func TestPeriph_DutyLimits(t *testing.T) {
	p := NewPeriph(&fakePin{})
	assert.Zero(t, p.Duty())

	require.NoError(t, p.SetPeriod(time.Millisecond))
	require.NoError(t, p.Write(2*time.Millisecond))
	assert.Equal(t, gpio.DutyMax, p.Duty())
}

func TestPeriph_StartStop(t *testing.T) {
	pin := &fakePin{level: gpio.High}
	p := NewPeriph(pin)

	assert.Error(t, p.Start(), "period must be set first")
	assert.Error(t, p.SetPeriod(0))

	require.NoError(t, p.SetPeriod(20*time.Millisecond))
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	assert.Equal(t, 1, pin.halted)
	assert.Equal(t, gpio.Low, pin.level)

	calls := pin.calls
	require.NoError(t, p.Write(time.Millisecond))
	assert.Equal(t, calls, pin.calls, "a stopped output is not driven")
}
