package emg

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/emgarm/pkg/config"
)

// Mock simulates surface EMG electrodes for host runs and tests.
//
// Every channel carries a DC baseline, white noise and mains hum. Muscle
// contractions are bursts of band-limited noise; consecutive bursts move to
// the next channel, so a classifier sees a repeating sequence of activity
// patterns. Time is counted in ticks: reading channel 0 starts a new tick.
type Mock struct {
	cfg        config.MockConfig
	channels   int
	sampleRate float64
	mainsHz    float64

	mu   sync.Mutex
	rng  *rand.Rand
	tick int64
	// Per channel state of the muscle signal generator.
	phase [][]float64
}

// muscle tones in Hz; the sum approximates EMG energy in the 50-150 Hz band.
var muscleTones = []float64{55, 73, 97, 118, 141}

// NewMock creates a simulator. A nil cfg uses the defaults.
func NewMock(cfg *config.MockConfig, channels int, sampleRate, mainsHz float64) (*Mock, error) {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	if channels < 1 {
		return nil, fmt.Errorf("need at least one channel, got %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}

	m := &Mock{
		cfg:        *cfg,
		channels:   channels,
		sampleRate: sampleRate,
		mainsHz:    mainsHz,
	}
	m.Reset()
	return m, nil
}

// Reset rewinds the simulation to tick zero with the configured seed.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	seed := uint64(m.cfg.Seed)
	m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m.tick = -1
	m.phase = make([][]float64, m.channels)
	for ch := range m.phase {
		m.phase[ch] = make([]float64, len(muscleTones))
		for i := range m.phase[ch] {
			m.phase[ch][i] = m.rng.Float64() * 2 * math.Pi
		}
	}
}

// Read returns the next sample of a channel.
func (m *Mock) Read(channel int) (uint16, error) {
	if channel < 0 || channel >= m.channels {
		return 0, fmt.Errorf("channel %d out of range [0,%d)", channel, m.channels)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if channel == 0 {
		m.tick++
	}
	t := float64(max(m.tick, 0)) / m.sampleRate

	v := m.cfg.Baseline
	v += m.cfg.Noise * m.rng.NormFloat64()
	v += m.cfg.MainsHum * math.Sin(2*math.Pi*m.mainsHz*t)
	if m.ActiveChannelAt(t) == channel {
		v += m.cfg.Amplitude * m.muscle(channel, t)
	}

	return clamp(v), nil
}

// ActiveChannelAt returns the channel contracting at time t (seconds from the
// first tick), or -1 between bursts.
func (m *Mock) ActiveChannelAt(t float64) int {
	period := m.cfg.BurstPeriod.Seconds()
	duration := m.cfg.BurstDuration.Seconds()
	if period <= 0 || duration <= 0 {
		return -1
	}
	burst := int(t / period)
	if math.Mod(t, period) >= duration {
		return -1
	}
	return burst % m.channels
}

// Elapsed returns the simulated time of the current tick.
func (m *Mock) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(float64(max(m.tick, 0)) / m.sampleRate * float64(time.Second))
}

func (m *Mock) muscle(channel int, t float64) float64 {
	var s float64
	for i, f := range muscleTones {
		// A slow random walk of the phases keeps the bursts noise-like.
		m.phase[channel][i] += 0.3 * m.rng.NormFloat64()
		s += math.Sin(2*math.Pi*f*t + m.phase[channel][i])
	}
	return s / math.Sqrt(float64(len(muscleTones)))
}

func clamp(v float64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > MaxSample:
		return MaxSample
	}
	return uint16(v)
}
