// Package classifier turns feature vectors into gesture decisions with a fixed
// feed-forward network.
package classifier

import (
	"errors"
	"fmt"
	"log"

	"github.com/itohio/emgarm/pkg/model"
)

// ErrInputSize reports a mismatch between feature and model dimensions.
var ErrInputSize = errors.New("input size mismatch")

// Result is one classification.
type Result struct {
	Gesture       Gesture
	Index         int
	Confidence    float64
	Probabilities []float64
}

// Options configures a Classifier.
type Options struct {
	// Normalization is "minmax" (default) or "robust".
	Normalization string
	// MinConfidence reports decisions below it as Unknown. Zero disables it.
	MinConfidence float64
	Dropout       float64
	Logger        *log.Logger
}

// Classifier normalises, infers and decides. It belongs to the inference
// task; build one per goroutine over shared weights.
type Classifier struct {
	net           *Network
	normalize     Normalizer
	normalization string
	minConfidence float64
	logger        *log.Logger
	scratch       []float64
}

// New checks the weights against the feature length and the gesture set.
// Any mismatch is a configuration error.
func New(w *model.Weights, featureLen int, opts Options) (*Classifier, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: no weights", model.ErrFormat)
	}
	if w.InputLen() != featureLen {
		return nil, fmt.Errorf("%w: model expects %d features, extractor produces %d", ErrInputSize, w.InputLen(), featureLen)
	}
	if w.OutputLen() != GestureCount {
		return nil, fmt.Errorf("%w: model has %d outputs, want %d gestures", ErrInputSize, w.OutputLen(), GestureCount)
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence must be in [0, 1], got %v", opts.MinConfidence)
	}

	norm, err := NormalizerByName(opts.Normalization)
	if err != nil {
		return nil, err
	}
	net, err := NewNetwork(w, opts.Dropout)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	name := opts.Normalization
	if name == "" {
		name = "minmax"
	}

	return &Classifier{
		net:           net,
		normalize:     norm,
		normalization: name,
		minConfidence: opts.MinConfidence,
		logger:        logger,
		scratch:       make([]float64, featureLen),
	}, nil
}

// InputLen returns the feature vector length the classifier accepts.
func (c *Classifier) InputLen() int {
	return c.net.InputLen()
}

// Normalize returns a normalised copy of fv. A degenerate vector becomes all
// zeros and is logged.
func (c *Classifier) Normalize(fv []float64) []float64 {
	out := make([]float64, len(fv))
	if !c.normalize(out, fv) {
		c.logger.Printf("degenerate feature vector, %s normalization falls back to zeros", c.normalization)
	}
	return out
}

// Infer runs the forward pass on an already normalised vector.
func (c *Classifier) Infer(x []float64) ([]float64, error) {
	return c.net.Forward(x)
}

// Predict runs inference, softmax and the decision rule on a normalised
// vector.
func (c *Classifier) Predict(x []float64) (Result, error) {
	raw, err := c.net.Forward(x)
	if err != nil {
		return Result{Gesture: Unknown, Index: -1}, err
	}

	probs := Softmax(raw)
	g, conf := Decide(probs)
	idx := int(g)
	if !g.Known() {
		idx = -1
	}
	if g.Known() && conf < c.minConfidence {
		g = Unknown
	}

	return Result{
		Gesture:       g,
		Index:         idx,
		Confidence:    conf,
		Probabilities: probs,
	}, nil
}

// Classify normalises a raw feature vector and predicts its gesture.
func (c *Classifier) Classify(fv []float64) (Result, error) {
	if len(fv) != c.InputLen() {
		return Result{Gesture: Unknown, Index: -1}, fmt.Errorf("%w: got %d features, want %d", ErrInputSize, len(fv), c.InputLen())
	}
	if !c.normalize(c.scratch, fv) {
		c.logger.Printf("degenerate feature vector, %s normalization falls back to zeros", c.normalization)
	}
	return c.Predict(c.scratch)
}
