package pwm

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Periph drives a hardware PWM capable pin through periph.io, for running the
// controller on a Linux board instead of the microcontroller.
type Periph struct {
	mu      sync.Mutex
	pin     gpio.PinOut
	period  time.Duration
	level   time.Duration
	running bool
}

// OpenPeriph initialises the periph host drivers and looks up the pin by name
// (for example "GPIO18").
func OpenPeriph(name string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %q not found", name)
	}
	return NewPeriph(p), nil
}

// NewPeriph wraps an already opened pin.
func NewPeriph(pin gpio.PinOut) *Periph {
	return &Periph{pin: pin}
}

// SetPeriod sets the PWM period. A running output is updated immediately.
func (p *Periph) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("period must be positive, got %v", d)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.period = d
	return p.apply()
}

// Write sets the high time.
func (p *Periph) Write(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = d
	return p.apply()
}

// Start enables the output.
func (p *Periph) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.period == 0 {
		return fmt.Errorf("period not set")
	}
	p.running = true
	return p.apply()
}

// Stop halts the PWM and drives the pin low.
func (p *Periph) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if err := p.pin.Halt(); err != nil {
		return fmt.Errorf("failed to halt %s: %w", p.pin, err)
	}
	return p.pin.Out(gpio.Low)
}

// Duty returns the duty cycle for the current period and level.
func (p *Periph) Duty() gpio.Duty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty()
}

func (p *Periph) duty() gpio.Duty {
	if p.period <= 0 || p.level <= 0 {
		return 0
	}
	if p.level >= p.period {
		return gpio.DutyMax
	}
	return gpio.Duty(int64(gpio.DutyMax) * int64(p.level) / int64(p.period))
}

func (p *Periph) apply() error {
	if !p.running {
		return nil
	}
	if err := p.pin.PWM(p.duty(), physic.PeriodToFrequency(p.period)); err != nil {
		return fmt.Errorf("failed to set pwm on %s: %w", p.pin, err)
	}
	return nil
}
