package emg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/itohio/emgarm/pkg/bus"
	"github.com/itohio/emgarm/pkg/filter"
	"github.com/itohio/emgarm/pkg/spectrum"
)

// Acquirer is the acquisition task. It samples every channel once per tick,
// conditions the samples, fills the spectral windows and sends each feature
// vector to the bus. The filter and window state it owns is never shared.
type Acquirer struct {
	adc      ADC
	cond     *filter.Conditioner
	ext      *spectrum.Extractor
	out      *bus.Bus[spectrum.FeatureVector]
	interval time.Duration
	retries  int
	logger   *log.Logger

	last []uint16

	ticks    atomic.Uint64
	failures atomic.Uint64
	emitted  atomic.Uint64
}

// AcquirerOptions configures an Acquirer.
type AcquirerOptions struct {
	// Interval between ticks. Zero runs as fast as the consumer allows,
	// yielding once per tick.
	Interval time.Duration
	// Retries is the number of extra reads after a failed one.
	Retries int
	Logger  *log.Logger
}

// NewAcquirer wires the acquisition stages. The conditioner and extractor
// must agree on the channel count.
func NewAcquirer(adc ADC, cond *filter.Conditioner, ext *spectrum.Extractor, out *bus.Bus[spectrum.FeatureVector], opts AcquirerOptions) (*Acquirer, error) {
	if adc == nil || cond == nil || ext == nil || out == nil {
		return nil, errors.New("acquirer needs an adc, conditioner, extractor and bus")
	}
	if cond.Channels() != ext.Channels() {
		return nil, fmt.Errorf("conditioner has %d channels, extractor %d", cond.Channels(), ext.Channels())
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", opts.Retries)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	last := make([]uint16, cond.Channels())
	return &Acquirer{
		adc:      adc,
		cond:     cond,
		ext:      ext,
		out:      out,
		interval: opts.Interval,
		retries:  opts.Retries,
		logger:   logger,
		last:     last,
	}, nil
}

// Step runs one tick. It blocks while the bus is full and returns only
// context errors.
func (a *Acquirer) Step(ctx context.Context) error {
	for ch := range a.last {
		raw := a.read(ch)
		fv, ok := a.ext.Push(ch, a.cond.Update(ch, raw))
		if !ok {
			continue
		}
		if err := a.out.Send(ctx, fv); err != nil {
			return err
		}
		a.emitted.Add(1)
	}
	a.ticks.Add(1)
	return nil
}

// Run ticks until ctx is done, then closes the bus so the consumer drains it.
func (a *Acquirer) Run(ctx context.Context) error {
	defer a.out.Close()

	var tick <-chan time.Time
	if a.interval > 0 {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else {
			if ctx.Err() != nil {
				return nil
			}
			runtime.Gosched()
		}

		if err := a.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// read returns a fresh sample, retrying failed reads. When every attempt
// fails the previous sample of the channel is held.
func (a *Acquirer) read(ch int) uint16 {
	var err error
	for attempt := 0; attempt <= a.retries; attempt++ {
		var v uint16
		if v, err = a.adc.Read(ch); err == nil {
			a.last[ch] = v
			return v
		}
	}
	a.failures.Add(1)
	a.logger.Printf("adc channel %d: %v, holding last sample %d", ch, err, a.last[ch])
	return a.last[ch]
}

// Ticks returns the number of completed ticks.
func (a *Acquirer) Ticks() uint64 {
	return a.ticks.Load()
}

// ReadFailures returns the number of samples that had to be held.
func (a *Acquirer) ReadFailures() uint64 {
	return a.failures.Load()
}

// Emitted returns the number of feature vectors sent.
func (a *Acquirer) Emitted() uint64 {
	return a.emitted.Load()
}
