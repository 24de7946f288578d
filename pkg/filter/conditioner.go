package filter

import (
	"fmt"
)

// Options selects the filter stages and their corners.
type Options struct {
	SampleRate float32
	MainsHz    float32
	NotchQ     float32
	LowpassHz  float32
	HighpassHz float32

	Notch    bool
	Lowpass  bool
	Highpass bool
}

// DefaultOptions mirrors the usual surface EMG setup: 1 kHz sampling, 60 Hz
// mains and a 20-150 Hz band.
func DefaultOptions() Options {
	return Options{
		SampleRate: 1000,
		MainsHz:    60,
		NotchQ:     10,
		LowpassHz:  150,
		HighpassHz: 20,
		Notch:      true,
		Lowpass:    true,
		Highpass:   true,
	}
}

// Chain is the filter state of a single channel.
type Chain struct {
	stages []Biquad
}

// NewChain builds the stage cascade in the fixed order notch, low-pass, high-pass.
func NewChain(opts Options) (*Chain, error) {
	c := &Chain{stages: make([]Biquad, 0, 3)}

	if opts.Notch {
		s, err := NewNotch(opts.MainsHz, opts.SampleRate, opts.NotchQ)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, s)
	}
	if opts.Lowpass {
		s, err := NewLowpass(opts.LowpassHz, opts.SampleRate)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, s)
	}
	if opts.Highpass {
		s, err := NewHighpass(opts.HighpassHz, opts.SampleRate)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, s)
	}

	return c, nil
}

// Update runs one raw reading through every stage.
func (c *Chain) Update(raw uint16) float32 {
	y := float32(raw)
	for i := range c.stages {
		y = c.stages[i].Update(y)
	}
	return y
}

// Reset clears the history of every stage.
func (c *Chain) Reset() {
	for i := range c.stages {
		c.stages[i].Reset()
	}
}

// Stages returns the number of active sections.
func (c *Chain) Stages() int {
	return len(c.stages)
}

// Conditioner holds one independent Chain per sensor channel. It is owned by
// the acquisition task and must not be shared.
type Conditioner struct {
	chains []Chain
}

// NewConditioner builds identical chains for the given number of channels.
func NewConditioner(channels int, opts Options) (*Conditioner, error) {
	if channels < 1 {
		return nil, fmt.Errorf("conditioner needs at least one channel, got %d", channels)
	}

	c := &Conditioner{chains: make([]Chain, channels)}
	for i := range c.chains {
		chain, err := NewChain(opts)
		if err != nil {
			return nil, err
		}
		c.chains[i] = *chain
	}
	return c, nil
}

// Update filters the raw reading of one channel.
func (c *Conditioner) Update(channel int, raw uint16) float32 {
	return c.chains[channel].Update(raw)
}

// Channels returns the channel count.
func (c *Conditioner) Channels() int {
	return len(c.chains)
}

// Reset clears all channel histories.
func (c *Conditioner) Reset() {
	for i := range c.chains {
		c.chains[i].Reset()
	}
}
