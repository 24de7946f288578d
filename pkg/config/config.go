package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors that must stop the device before the
// control loop starts.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Bus         BusConfig         `yaml:"bus"`
	Model       ModelConfig       `yaml:"model"`
	Servos      []ServoConfig     `yaml:"servos"`
	Gestures    GesturesConfig    `yaml:"gestures"`
	PIO         PIOConfig         `yaml:"pio"`
	Mock        MockConfig        `yaml:"mock"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// AcquisitionConfig describes the sensor channels, filter chain and window.
type AcquisitionConfig struct {
	Channels     int     `yaml:"channels"`
	WindowSize   int     `yaml:"window_size"`    // Samples per channel per transform, power of two
	SampleRateHz float64 `yaml:"sample_rate_hz"` // Tick cadence and filter design rate
	MainsHz      float64 `yaml:"mains_hz"`       // Power-line frequency to notch out (50 or 60)
	NotchQ       float64 `yaml:"notch_q"`
	LowpassHz    float64 `yaml:"lowpass_hz"`
	HighpassHz   float64 `yaml:"highpass_hz"`
	Notch        *bool   `yaml:"notch"`
	Lowpass      *bool   `yaml:"lowpass"`
	Highpass     *bool   `yaml:"highpass"`
	ReadRetries  int     `yaml:"read_retries"` // Extra ADC reads per tick before holding the last sample
}

// BusConfig sizes the acquisition to inference queue.
type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

// ModelConfig selects the classifier artifact and decision parameters.
type ModelConfig struct {
	Path          string  `yaml:"path"` // Empty = embedded default model
	Dropout       float64 `yaml:"dropout"`
	Normalization string  `yaml:"normalization"` // minmax or robust
	MinConfidence float64 `yaml:"min_confidence"`
}

// ServoConfig contains per-actuator calibration.
type ServoConfig struct {
	Name       string        `yaml:"name"`
	Pin        int           `yaml:"pin"`
	MinPulse   time.Duration `yaml:"min_pulse"`
	MaxPulse   time.Duration `yaml:"max_pulse"`
	Period     time.Duration `yaml:"period"`
	MaxDegrees int           `yaml:"max_degrees"`
}

// GesturesConfig maps gestures to joint targets.
type GesturesConfig struct {
	UnknownPolicy string           `yaml:"unknown_policy"` // hold or rest
	Poses         map[string][]int `yaml:"poses"`          // gesture name -> degrees per servo, in servo order
}

// PIOConfig describes the timing coprocessor clock.
type PIOConfig struct {
	ClockHz uint32 `yaml:"clock_hz"`
}

// MockConfig contains synthetic EMG source configuration.
type MockConfig struct {
	Baseline      float64       `yaml:"baseline"`       // ADC counts at rest
	Amplitude     float64       `yaml:"amplitude"`      // Peak muscle activity (ADC counts)
	Noise         float64       `yaml:"noise"`          // Background noise (ADC counts)
	MainsHum      float64       `yaml:"mains_hum"`      // Power-line interference (ADC counts)
	BurstPeriod   time.Duration `yaml:"burst_period"`   // Time between contractions
	BurstDuration time.Duration `yaml:"burst_duration"` // Contraction length
	Seed          int64         `yaml:"seed"`
}

// TelemetryConfig configures optional MQTT publication of decisions.
type TelemetryConfig struct {
	Broker   string `yaml:"broker"` // Empty = disabled
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// LogConfig configures host log files.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Acquisition: AcquisitionConfig{
			Channels:     3,
			WindowSize:   64,
			SampleRateHz: 1000,
			MainsHz:      60,
			NotchQ:       10,
			LowpassHz:    150,
			HighpassHz:   20,
			Notch:        boolPtr(true),
			Lowpass:      boolPtr(true),
			Highpass:     boolPtr(true),
			ReadRetries:  1,
		},
		Bus: BusConfig{
			Capacity: 64,
		},
		Model: ModelConfig{
			Dropout:       0.5,
			Normalization: "minmax",
		},
		Servos: []ServoConfig{
			{Name: "thumb", Pin: 2, MinPulse: 500 * time.Microsecond, MaxPulse: 2500 * time.Microsecond, Period: 20 * time.Millisecond, MaxDegrees: 180},
			{Name: "fingers", Pin: 3, MinPulse: 500 * time.Microsecond, MaxPulse: 2500 * time.Microsecond, Period: 20 * time.Millisecond, MaxDegrees: 180},
			{Name: "wrist", Pin: 4, MinPulse: 500 * time.Microsecond, MaxPulse: 2500 * time.Microsecond, Period: 20 * time.Millisecond, MaxDegrees: 180},
		},
		Gestures: GesturesConfig{
			UnknownPolicy: "hold",
			Poses: map[string][]int{
				"relax":     {0, 0, 90},
				"thumbs_up": {0, 180, 180},
				"pinch":     {90, 90, 180},
			},
		},
		PIO: PIOConfig{
			ClockHz: 125_000_000,
		},
		Mock: MockConfig{
			Baseline:      2048,
			Amplitude:     600,
			Noise:         20,
			MainsHum:      80,
			BurstPeriod:   4 * time.Second,
			BurstDuration: 1500 * time.Millisecond,
			Seed:          1,
		},
		Telemetry: TelemetryConfig{
			Topic:    "emgarm/gesture",
			ClientID: "emgarm",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Poses and servos replace the defaults wholesale when present.
	cfg.Servos = nil
	cfg.Gestures.Poses = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FeatureLen is the length of one feature vector: N/2 magnitudes per channel.
func (c *Config) FeatureLen() int {
	return c.Acquisition.WindowSize / 2 * c.Acquisition.Channels
}

// TickInterval is the time between two acquisition ticks.
func (c *Config) TickInterval() time.Duration {
	if c.Acquisition.SampleRateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.Acquisition.SampleRateHz)
}

// Validate reports configuration errors. Any error returned wraps ErrInvalid.
func (c *Config) Validate() error {
	a := c.Acquisition
	if a.Channels < 1 {
		return fmt.Errorf("%w: acquisition.channels must be at least 1, got %d", ErrInvalid, a.Channels)
	}
	if a.WindowSize < 2 || a.WindowSize&(a.WindowSize-1) != 0 {
		return fmt.Errorf("%w: acquisition.window_size must be a power of two >= 2, got %d", ErrInvalid, a.WindowSize)
	}
	if a.SampleRateHz <= 0 {
		return fmt.Errorf("%w: acquisition.sample_rate_hz must be positive", ErrInvalid)
	}
	nyquist := a.SampleRateHz / 2
	for name, f := range map[string]float64{"mains_hz": a.MainsHz, "lowpass_hz": a.LowpassHz, "highpass_hz": a.HighpassHz} {
		if f <= 0 || f >= nyquist {
			return fmt.Errorf("%w: acquisition.%s must be in (0, %g), got %g", ErrInvalid, name, nyquist, f)
		}
	}
	if a.ReadRetries < 0 {
		return fmt.Errorf("%w: acquisition.read_retries must not be negative", ErrInvalid)
	}

	if c.Bus.Capacity < 1 {
		return fmt.Errorf("%w: bus.capacity must be at least 1, got %d", ErrInvalid, c.Bus.Capacity)
	}

	switch c.Model.Normalization {
	case "minmax", "robust":
	default:
		return fmt.Errorf("%w: model.normalization must be minmax or robust, got %q", ErrInvalid, c.Model.Normalization)
	}
	if c.Model.MinConfidence < 0 || c.Model.MinConfidence > 1 {
		return fmt.Errorf("%w: model.min_confidence must be in [0,1]", ErrInvalid)
	}

	if len(c.Servos) == 0 {
		return fmt.Errorf("%w: no servos configured", ErrInvalid)
	}
	for i, s := range c.Servos {
		if s.MinPulse >= s.MaxPulse {
			return fmt.Errorf("%w: servo %d (%s): min_pulse %v must be below max_pulse %v", ErrInvalid, i, s.Name, s.MinPulse, s.MaxPulse)
		}
		if s.MaxDegrees <= 0 {
			return fmt.Errorf("%w: servo %d (%s): max_degrees must be positive", ErrInvalid, i, s.Name)
		}
		if s.Period <= s.MaxPulse {
			return fmt.Errorf("%w: servo %d (%s): period %v must exceed max_pulse %v", ErrInvalid, i, s.Name, s.Period, s.MaxPulse)
		}
	}

	switch c.Gestures.UnknownPolicy {
	case "hold", "rest":
	default:
		return fmt.Errorf("%w: gestures.unknown_policy must be hold or rest, got %q", ErrInvalid, c.Gestures.UnknownPolicy)
	}
	for name, pose := range c.Gestures.Poses {
		if len(pose) != len(c.Servos) {
			return fmt.Errorf("%w: pose %q has %d targets, want %d", ErrInvalid, name, len(pose), len(c.Servos))
		}
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	a := &c.Acquisition
	if a.Channels == 0 {
		a.Channels = def.Acquisition.Channels
	}
	if a.WindowSize == 0 {
		a.WindowSize = def.Acquisition.WindowSize
	}
	if a.SampleRateHz == 0 {
		a.SampleRateHz = def.Acquisition.SampleRateHz
	}
	if a.MainsHz == 0 {
		a.MainsHz = def.Acquisition.MainsHz
	}
	if a.NotchQ == 0 {
		a.NotchQ = def.Acquisition.NotchQ
	}
	if a.LowpassHz == 0 {
		a.LowpassHz = def.Acquisition.LowpassHz
	}
	if a.HighpassHz == 0 {
		a.HighpassHz = def.Acquisition.HighpassHz
	}
	if a.Notch == nil {
		a.Notch = def.Acquisition.Notch
	}
	if a.Lowpass == nil {
		a.Lowpass = def.Acquisition.Lowpass
	}
	if a.Highpass == nil {
		a.Highpass = def.Acquisition.Highpass
	}

	if c.Bus.Capacity == 0 {
		c.Bus.Capacity = def.Bus.Capacity
	}

	if c.Model.Normalization == "" {
		c.Model.Normalization = def.Model.Normalization
	}

	if len(c.Servos) == 0 {
		c.Servos = def.Servos
	}
	for i := range c.Servos {
		if c.Servos[i].Period == 0 {
			c.Servos[i].Period = 20 * time.Millisecond
		}
		if c.Servos[i].MaxDegrees == 0 {
			c.Servos[i].MaxDegrees = 180
		}
	}

	if c.Gestures.UnknownPolicy == "" {
		c.Gestures.UnknownPolicy = def.Gestures.UnknownPolicy
	}
	if len(c.Gestures.Poses) == 0 {
		c.Gestures.Poses = def.Gestures.Poses
	}

	if c.PIO.ClockHz == 0 {
		c.PIO.ClockHz = def.PIO.ClockHz
	}

	if c.Mock.BurstPeriod == 0 {
		c.Mock.BurstPeriod = def.Mock.BurstPeriod
	}
	if c.Mock.BurstDuration == 0 {
		c.Mock.BurstDuration = def.Mock.BurstDuration
	}
	if c.Mock.Baseline == 0 {
		c.Mock.Baseline = def.Mock.Baseline
	}

	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = def.Telemetry.ClientID
	}

	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = def.Log.MaxBackups
	}
}

func boolPtr(v bool) *bool { return &v }

// Enabled reads an optional switch, treating nil as on.
func Enabled(v *bool) bool {
	return v == nil || *v
}
