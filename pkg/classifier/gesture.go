package classifier

import (
	"fmt"
	"strings"
)

// Gesture is the outcome of a classification.
type Gesture int

// The known gestures occupy the network output indices in this order.
const (
	Relax Gesture = iota
	ThumbsUp
	Pinch
	Unknown
)

// GestureCount is the number of known gestures and the required network
// output width.
const GestureCount = int(Unknown)

var gestureNames = [...]string{
	Relax:    "relax",
	ThumbsUp: "thumbs_up",
	Pinch:    "pinch",
	Unknown:  "unknown",
}

func (g Gesture) String() string {
	if g < 0 || int(g) >= len(gestureNames) {
		return gestureNames[Unknown]
	}
	return gestureNames[g]
}

// Known reports whether g maps to a network output.
func (g Gesture) Known() bool {
	return g >= 0 && g < Unknown
}

// FromIndex maps a network output index to a gesture. Out-of-range indices
// yield Unknown.
func FromIndex(i int) Gesture {
	if i < 0 || i >= GestureCount {
		return Unknown
	}
	return Gesture(i)
}

// ParseGesture accepts the names produced by String, case-insensitively.
func ParseGesture(s string) (Gesture, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for g, n := range gestureNames {
		if n == name {
			return Gesture(g), nil
		}
	}
	return Unknown, fmt.Errorf("unknown gesture name %q", s)
}

// Gestures returns the known gestures in index order.
func Gestures() []Gesture {
	out := make([]Gesture, GestureCount)
	for i := range out {
		out[i] = Gesture(i)
	}
	return out
}
