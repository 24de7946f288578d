// Package gesture drives the hand servos from classifier decisions.
package gesture

import (
	"errors"
	"fmt"
	"log"

	"github.com/itohio/emgarm/pkg/classifier"
)

// Actuator order. Poses list one target per actuator in this order.
const (
	Thumb = iota
	Fingers
	Wrist

	ActuatorCount
)

// Rotator is a single positioned actuator.
type Rotator interface {
	Rotate(degrees int) error
	Start() error
	Stop() error
}

// Pose holds target degrees for thumb, fingers and wrist.
type Pose [ActuatorCount]int

// DefaultPoses are the built-in poses of the known gestures.
func DefaultPoses() map[classifier.Gesture]Pose {
	return map[classifier.Gesture]Pose{
		classifier.Relax:    {0, 0, 90},
		classifier.ThumbsUp: {0, 180, 180},
		classifier.Pinch:    {90, 90, 180},
	}
}

// UnknownPolicy selects what Apply does with classifier.Unknown.
type UnknownPolicy int

const (
	// Hold keeps the last pose.
	Hold UnknownPolicy = iota
	// Rest moves to the Relax pose.
	Rest
)

// ParseUnknownPolicy accepts "hold" and "rest".
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch s {
	case "", "hold":
		return Hold, nil
	case "rest":
		return Rest, nil
	}
	return Hold, fmt.Errorf("unknown gesture policy %q", s)
}

func (p UnknownPolicy) String() string {
	if p == Rest {
		return "rest"
	}
	return "hold"
}

// Actuator is the GestureActuator: it maps gestures to poses and rotates the
// servos in fixed order.
type Actuator struct {
	servos  [ActuatorCount]Rotator
	poses   map[classifier.Gesture]Pose
	policy  UnknownPolicy
	current classifier.Gesture
	logger  *log.Logger
}

// New creates an actuator over thumb, fingers and wrist. Missing poses are
// filled from DefaultPoses.
func New(servos []Rotator, poses map[classifier.Gesture]Pose, policy UnknownPolicy, logger *log.Logger) (*Actuator, error) {
	if len(servos) != ActuatorCount {
		return nil, fmt.Errorf("need %d servos (thumb, fingers, wrist), got %d", ActuatorCount, len(servos))
	}
	if logger == nil {
		logger = log.Default()
	}

	a := &Actuator{
		poses:   DefaultPoses(),
		policy:  policy,
		current: classifier.Unknown,
		logger:  logger,
	}
	copy(a.servos[:], servos)
	for g, p := range poses {
		if !g.Known() {
			return nil, fmt.Errorf("pose given for %s", g)
		}
		a.poses[g] = p
	}
	return a, nil
}

// PosesFromConfig converts gesture-name keyed degree lists.
func PosesFromConfig(in map[string][]int) (map[classifier.Gesture]Pose, error) {
	out := make(map[classifier.Gesture]Pose, len(in))
	for name, degrees := range in {
		g, err := classifier.ParseGesture(name)
		if err != nil {
			return nil, err
		}
		if len(degrees) != ActuatorCount {
			return nil, fmt.Errorf("pose %s has %d targets, want %d", name, len(degrees), ActuatorCount)
		}
		var p Pose
		copy(p[:], degrees)
		out[g] = p
	}
	return out, nil
}

// Pose returns the pose of a known gesture.
func (a *Actuator) Pose(g classifier.Gesture) (Pose, bool) {
	p, ok := a.poses[g]
	return p, ok
}

// Current returns the gesture of the last applied pose, or Unknown before the
// first one.
func (a *Actuator) Current() classifier.Gesture {
	return a.current
}

// Apply moves the servos to the pose of g. Every servo is commanded even if
// an earlier one fails; the errors are joined.
func (a *Actuator) Apply(g classifier.Gesture) error {
	if !g.Known() {
		if a.policy == Hold {
			a.logger.Printf("unknown gesture, holding %s", a.current)
			return nil
		}
		a.logger.Printf("unknown gesture, returning to rest")
		g = classifier.Relax
	}

	pose := a.poses[g]
	var errs []error
	for i, s := range a.servos {
		if err := s.Rotate(pose[i]); err != nil {
			errs = append(errs, err)
		}
	}
	a.current = g
	return errors.Join(errs...)
}

// Start enables every servo.
func (a *Actuator) Start() error {
	var errs []error
	for _, s := range a.servos {
		if err := s.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop disables every servo.
func (a *Actuator) Stop() error {
	var errs []error
	for _, s := range a.servos {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
