package gesture

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/itohio/emgarm/pkg/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	servo   string
	degrees int
}

type fakeServo struct {
	name    string
	calls   *[]call
	running bool
	err     error
}

func (f *fakeServo) Rotate(degrees int) error {
	*f.calls = append(*f.calls, call{f.name, degrees})
	return f.err
}

func (f *fakeServo) Start() error {
	f.running = true
	return nil
}

func (f *fakeServo) Stop() error {
	f.running = false
	return nil
}

func newActuator(t *testing.T, policy UnknownPolicy) (*Actuator, *[]call, []*fakeServo) {
	t.Helper()
	calls := &[]call{}
	fakes := []*fakeServo{
		{name: "thumb", calls: calls},
		{name: "fingers", calls: calls},
		{name: "wrist", calls: calls},
	}
	servos := make([]Rotator, len(fakes))
	for i, f := range fakes {
		servos[i] = f
	}
	a, err := New(servos, nil, policy, log.New(&bytes.Buffer{}, "", 0))
	require.NoError(t, err)
	return a, calls, fakes
}

func TestApply_KnownGestures(t *testing.T) {
	tests := []struct {
		gesture classifier.Gesture
		want    []call
	}{
		{classifier.Relax, []call{{"thumb", 0}, {"fingers", 0}, {"wrist", 90}}},
		{classifier.ThumbsUp, []call{{"thumb", 0}, {"fingers", 180}, {"wrist", 180}}},
		{classifier.Pinch, []call{{"thumb", 90}, {"fingers", 90}, {"wrist", 180}}},
	}
	for _, tt := range tests {
		t.Run(tt.gesture.String(), func(t *testing.T) {
			a, calls, _ := newActuator(t, Hold)
			require.NoError(t, a.Apply(tt.gesture))
			assert.Equal(t, tt.want, *calls)
			assert.Equal(t, tt.gesture, a.Current())
		})
	}
}

func TestApply_UnknownHoldsLastPose(t *testing.T) {
	a, calls, _ := newActuator(t, Hold)
	var logs bytes.Buffer
	a.logger = log.New(&logs, "", 0)
	require.NoError(t, a.Apply(classifier.Pinch))
	*calls = (*calls)[:0]

	require.NoError(t, a.Apply(classifier.Unknown))
	assert.Empty(t, *calls)
	assert.Equal(t, classifier.Pinch, a.Current())
	assert.Equal(t, "unknown gesture, holding pinch\n", logs.String())

	require.NoError(t, a.Apply(classifier.Gesture(17)))
	assert.Empty(t, *calls)
}

func TestApply_UnknownRests(t *testing.T) {
	a, calls, _ := newActuator(t, Rest)
	require.NoError(t, a.Apply(classifier.ThumbsUp))
	*calls = (*calls)[:0]

	require.NoError(t, a.Apply(classifier.Unknown))
	assert.Equal(t, []call{{"thumb", 0}, {"fingers", 0}, {"wrist", 90}}, *calls)
	assert.Equal(t, classifier.Relax, a.Current())
}

func TestApply_ErrorsDoNotSkipServos(t *testing.T) {
	a, calls, fakes := newActuator(t, Hold)
	fakes[0].err = errors.New("thumb jammed")

	err := a.Apply(classifier.Pinch)
	assert.ErrorContains(t, err, "thumb jammed")
	assert.Len(t, *calls, 3)
}

func TestStartStop(t *testing.T) {
	a, _, fakes := newActuator(t, Hold)
	require.NoError(t, a.Start())
	for _, f := range fakes {
		assert.True(t, f.running)
	}
	require.NoError(t, a.Stop())
	for _, f := range fakes {
		assert.False(t, f.running)
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New([]Rotator{&fakeServo{}}, nil, Hold, nil)
	assert.Error(t, err)

	calls := &[]call{}
	servos := []Rotator{&fakeServo{calls: calls}, &fakeServo{calls: calls}, &fakeServo{calls: calls}}
	_, err = New(servos, map[classifier.Gesture]Pose{classifier.Unknown: {1, 2, 3}}, Hold, nil)
	assert.Error(t, err)
}

func TestNew_PoseOverride(t *testing.T) {
	calls := &[]call{}
	servos := []Rotator{
		&fakeServo{name: "thumb", calls: calls},
		&fakeServo{name: "fingers", calls: calls},
		&fakeServo{name: "wrist", calls: calls},
	}
	a, err := New(servos, map[classifier.Gesture]Pose{classifier.Pinch: {45, 45, 0}}, Hold, nil)
	require.NoError(t, err)

	p, ok := a.Pose(classifier.Pinch)
	require.True(t, ok)
	assert.Equal(t, Pose{45, 45, 0}, p)

	p, ok = a.Pose(classifier.Relax)
	require.True(t, ok)
	assert.Equal(t, Pose{0, 0, 90}, p)
}

func TestPosesFromConfig(t *testing.T) {
	poses, err := PosesFromConfig(map[string][]int{"relax": {1, 2, 3}, "thumbs_up": {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, Pose{1, 2, 3}, poses[classifier.Relax])
	assert.Equal(t, Pose{4, 5, 6}, poses[classifier.ThumbsUp])

	_, err = PosesFromConfig(map[string][]int{"wave": {1, 2, 3}})
	assert.Error(t, err)
	_, err = PosesFromConfig(map[string][]int{"pinch": {1, 2}})
	assert.Error(t, err)
}

func TestParseUnknownPolicy(t *testing.T) {
	p, err := ParseUnknownPolicy("rest")
	require.NoError(t, err)
	assert.Equal(t, Rest, p)
	assert.Equal(t, "rest", p.String())

	p, err = ParseUnknownPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Hold, p)

	_, err = ParseUnknownPolicy("panic")
	assert.Error(t, err)
}
