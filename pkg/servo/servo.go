// Package servo converts rotation targets into pulse widths.
package servo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itohio/emgarm/pkg/pwm"
)

// ErrCalibration reports an unusable servo profile.
var ErrCalibration = errors.New("invalid servo calibration")

// Profile is the calibration of one servo.
type Profile struct {
	MinPulse   time.Duration
	MaxPulse   time.Duration
	Period     time.Duration
	MaxDegrees uint32
}

// DefaultProfile is a standard hobby servo.
func DefaultProfile() Profile {
	return Profile{
		MinPulse:   1000 * time.Microsecond,
		MaxPulse:   2000 * time.Microsecond,
		Period:     20 * time.Millisecond,
		MaxDegrees: 180,
	}
}

// Validate checks the calibration.
func (p Profile) Validate() error {
	switch {
	case p.MinPulse <= 0:
		return fmt.Errorf("%w: min pulse %v must be positive", ErrCalibration, p.MinPulse)
	case p.MinPulse >= p.MaxPulse:
		return fmt.Errorf("%w: min pulse %v must be below max pulse %v", ErrCalibration, p.MinPulse, p.MaxPulse)
	case p.MaxPulse > p.Period:
		return fmt.Errorf("%w: max pulse %v exceeds period %v", ErrCalibration, p.MaxPulse, p.Period)
	case p.MaxDegrees == 0:
		return fmt.Errorf("%w: max degrees must be positive", ErrCalibration)
	}
	return nil
}

// DegreesToPulse maps degrees linearly onto [MinPulse, MaxPulse]. Targets past
// MaxDegrees give MaxPulse and negative targets give MinPulse.
func (p Profile) DegreesToPulse(degrees int) time.Duration {
	if degrees <= 0 {
		return p.MinPulse
	}
	if uint64(degrees) >= uint64(p.MaxDegrees) {
		return p.MaxPulse
	}
	span := p.MaxPulse - p.MinPulse
	pulse := p.MinPulse + time.Duration(int64(degrees)*int64(span)/int64(p.MaxDegrees))
	if pulse > p.MaxPulse {
		return p.MaxPulse
	}
	return pulse
}

// PulseToDegrees is the inverse of DegreesToPulse, rounded to the nearest
// degree.
func (p Profile) PulseToDegrees(pulse time.Duration) int {
	span := float64(p.MaxPulse - p.MinPulse)
	return int(math.Round(float64(pulse-p.MinPulse) * float64(p.MaxDegrees) / span))
}

// Servo is a ServoController: it owns a profile and the pulse generator of
// one actuator.
type Servo struct {
	name    string
	profile Profile
	out     pwm.Pulser
	pulse   time.Duration
}

// New validates the profile and programs the period. The servo is left at
// MinPulse and stopped.
func New(name string, out pwm.Pulser, profile Profile) (*Servo, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("servo %s: %w", name, err)
	}
	if err := out.SetPeriod(profile.Period); err != nil {
		return nil, fmt.Errorf("servo %s: %w", name, err)
	}
	s := &Servo{name: name, profile: profile, out: out}
	if err := s.write(profile.MinPulse); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the servo name.
func (s *Servo) Name() string {
	return s.name
}

// Profile returns the calibration.
func (s *Servo) Profile() Profile {
	return s.profile
}

// Pulse returns the commanded pulse width. It always lies within the
// calibrated limits.
func (s *Servo) Pulse() time.Duration {
	return s.pulse
}

// Degrees returns the commanded rotation.
func (s *Servo) Degrees() int {
	return s.profile.PulseToDegrees(s.pulse)
}

// Rotate commands a rotation. Out-of-range targets are clamped.
func (s *Servo) Rotate(degrees int) error {
	return s.write(s.profile.DegreesToPulse(degrees))
}

// Start enables the pulse train.
func (s *Servo) Start() error {
	return s.out.Start()
}

// Stop disables the pulse train.
func (s *Servo) Stop() error {
	return s.out.Stop()
}

// EaseTo moves to degrees along a cubic ease-in-out curve, writing a pulse
// every refresh until duration has elapsed or ctx is done.
func (s *Servo) EaseTo(ctx context.Context, degrees int, refresh, duration time.Duration) error {
	target := s.profile.DegreesToPulse(degrees)
	if refresh <= 0 || duration <= refresh {
		return s.write(target)
	}

	from := s.pulse
	steps := int(duration / refresh)
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		k := easeInOutCubic(float64(i) / float64(steps))
		pulse := from + time.Duration(k*float64(target-from))
		if err := s.write(pulse); err != nil {
			return err
		}
	}
	return s.write(target)
}

func (s *Servo) write(pulse time.Duration) error {
	pulse = min(max(pulse, s.profile.MinPulse), s.profile.MaxPulse)
	if err := s.out.Write(pulse); err != nil {
		return fmt.Errorf("servo %s: %w", s.name, err)
	}
	s.pulse = pulse
	return nil
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}
