// Package pipeline wires acquisition, classification and actuation into the
// running controller.
//
// Build constructs every component from the configuration before anything
// runs, so a bad configuration is reported before the first servo moves. Run
// starts the acquisition task and consumes feature vectors on the calling
// goroutine:
//
//	acquirer -> bus -> normalise -> classify -> publish -> actuate
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/itohio/emgarm/pkg/bus"
	"github.com/itohio/emgarm/pkg/capture"
	"github.com/itohio/emgarm/pkg/classifier"
	"github.com/itohio/emgarm/pkg/config"
	"github.com/itohio/emgarm/pkg/emg"
	"github.com/itohio/emgarm/pkg/filter"
	"github.com/itohio/emgarm/pkg/gesture"
	"github.com/itohio/emgarm/pkg/model"
	"github.com/itohio/emgarm/pkg/pwm"
	"github.com/itohio/emgarm/pkg/servo"
	"github.com/itohio/emgarm/pkg/spectrum"
)

// Publisher receives every decision.
type Publisher interface {
	Publish(r classifier.Result, at time.Time) error
}

// Option configures Build.
type Option func(*options)

type options struct {
	logger      *log.Logger
	diagnostics io.Writer
	publisher   Publisher
	weights     *model.Weights
	interval    *time.Duration
	now         func() time.Time
}

// WithLogger sets the logger of every component.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDiagnostics dumps every normalised feature vector to w as a capture
// frame.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) { o.diagnostics = w }
}

// WithPublisher forwards every decision to p.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithWeights overrides the model selected by the configuration.
func WithWeights(w *model.Weights) Option {
	return func(o *options) { o.weights = w }
}

// WithClock replaces time.Now for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithInterval overrides the acquisition tick interval derived from the
// sample rate. Zero ticks as fast as the consumer allows.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = &d }
}

// Pipeline is the assembled controller.
type Pipeline struct {
	bus        *bus.Bus[spectrum.FeatureVector]
	acquirer   *emg.Acquirer
	classifier *classifier.Classifier
	servos     []*servo.Servo
	actuator   *gesture.Actuator
	dump       *capture.FrameWriter
	publisher  Publisher
	logger     *log.Logger
	now        func() time.Time

	decisions atomic.Uint64
	last      atomic.Pointer[classifier.Result]
}

// Build validates cfg and constructs the controller. pulsers drive the
// servos in configuration order.
func Build(cfg *config.Config, adc emg.ADC, pulsers []pwm.Pulser, opts ...Option) (*Pipeline, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pulsers) != len(cfg.Servos) {
		return nil, fmt.Errorf("%w: %d servos configured, %d pulse outputs", config.ErrInvalid, len(cfg.Servos), len(pulsers))
	}

	a := cfg.Acquisition
	cond, err := filter.NewConditioner(a.Channels, filter.Options{
		SampleRate: float32(a.SampleRateHz),
		MainsHz:    float32(a.MainsHz),
		NotchQ:     float32(a.NotchQ),
		LowpassHz:  float32(a.LowpassHz),
		HighpassHz: float32(a.HighpassHz),
		Notch:      config.Enabled(a.Notch),
		Lowpass:    config.Enabled(a.Lowpass),
		Highpass:   config.Enabled(a.Highpass),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	ext, err := spectrum.New(a.WindowSize, a.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	weights := o.weights
	if weights == nil {
		if weights, err = loadWeights(cfg.Model.Path); err != nil {
			return nil, err
		}
	}
	cls, err := classifier.New(weights, ext.Len(), classifier.Options{
		Normalization: cfg.Model.Normalization,
		MinConfidence: cfg.Model.MinConfidence,
		Dropout:       cfg.Model.Dropout,
		Logger:        o.logger,
	})
	if err != nil {
		return nil, err
	}

	servos := make([]*servo.Servo, len(cfg.Servos))
	rotators := make([]gesture.Rotator, len(cfg.Servos))
	for i, sc := range cfg.Servos {
		s, err := servo.New(sc.Name, pulsers[i], servo.Profile{
			MinPulse:   sc.MinPulse,
			MaxPulse:   sc.MaxPulse,
			Period:     sc.Period,
			MaxDegrees: uint32(sc.MaxDegrees),
		})
		if err != nil {
			return nil, err
		}
		servos[i], rotators[i] = s, s
	}

	poses, err := gesture.PosesFromConfig(cfg.Gestures.Poses)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	policy, err := gesture.ParseUnknownPolicy(cfg.Gestures.UnknownPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	act, err := gesture.New(rotators, poses, policy, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	interval := cfg.TickInterval()
	if o.interval != nil {
		interval = *o.interval
	}
	queue := bus.New[spectrum.FeatureVector](cfg.Bus.Capacity)
	acq, err := emg.NewAcquirer(adc, cond, ext, queue, emg.AcquirerOptions{
		Interval: interval,
		Retries:  a.ReadRetries,
		Logger:   o.logger,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		bus:        queue,
		acquirer:   acq,
		classifier: cls,
		servos:     servos,
		actuator:   act,
		publisher:  o.publisher,
		logger:     o.logger,
		now:        o.now,
	}
	if o.diagnostics != nil {
		p.dump = capture.NewFrameWriter(o.diagnostics)
	}
	return p, nil
}

func loadWeights(path string) (*model.Weights, error) {
	if path == "" {
		return model.Default()
	}
	w, err := model.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	return w, nil
}

// Acquirer returns the acquisition task.
func (p *Pipeline) Acquirer() *emg.Acquirer {
	return p.acquirer
}

// Actuator returns the gesture actuator.
func (p *Pipeline) Actuator() *gesture.Actuator {
	return p.actuator
}

// Servos returns the servos in configuration order.
func (p *Pipeline) Servos() []*servo.Servo {
	return p.servos
}

// Decisions returns the number of classified feature vectors.
func (p *Pipeline) Decisions() uint64 {
	return p.decisions.Load()
}

// Last returns the most recent decision.
func (p *Pipeline) Last() (classifier.Result, bool) {
	r := p.last.Load()
	if r == nil {
		return classifier.Result{}, false
	}
	return *r, true
}

// Run starts the servos and the acquisition task and classifies feature
// vectors until ctx is done. The servos are stopped on return. Cancellation
// is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.actuator.Start(); err != nil {
		return fmt.Errorf("failed to start servos: %w", err)
	}

	acqCtx, cancel := context.WithCancel(ctx)
	acqDone := make(chan error, 1)
	go func() {
		acqDone <- p.acquirer.Run(acqCtx)
	}()

	var runErr error
	for {
		if _, err := p.Step(ctx); err != nil {
			if !errors.Is(err, bus.ErrClosed) && ctx.Err() == nil {
				runErr = err
			}
			break
		}
	}

	cancel()
	if err := <-acqDone; err != nil && runErr == nil {
		runErr = fmt.Errorf("acquisition: %w", err)
	}
	if err := p.actuator.Stop(); err != nil {
		p.logger.Printf("failed to stop servos: %v", err)
	}
	return runErr
}

// Step waits for one feature vector and acts on it. Publication and servo
// errors are logged; only bus, context and model errors are returned.
func (p *Pipeline) Step(ctx context.Context) (classifier.Result, error) {
	fv, err := p.bus.Receive(ctx)
	if err != nil {
		return classifier.Result{Gesture: classifier.Unknown, Index: -1}, err
	}

	x := p.classifier.Normalize(fv)
	if p.dump != nil {
		if err := p.dump.Write(x); err != nil {
			p.logger.Printf("failed to dump features: %v", err)
		}
	}

	res, err := p.classifier.Predict(x)
	if err != nil {
		return res, err
	}
	p.decisions.Add(1)
	p.last.Store(&res)
	p.logger.Printf("gesture %s (%.3f)", res.Gesture, res.Confidence)

	if p.publisher != nil {
		if err := p.publisher.Publish(res, p.now()); err != nil {
			p.logger.Printf("failed to publish decision: %v", err)
		}
	}
	if err := p.actuator.Apply(res.Gesture); err != nil {
		p.logger.Printf("failed to move to %s: %v", res.Gesture, err)
	}
	return res, nil
}
