// Package emg reads the EMG sensors and turns the sample stream into feature
// vectors.
package emg

// ADC reads one raw sample from an analog channel.
type ADC interface {
	Read(channel int) (uint16, error)
}

// MaxSample is the full scale of the 12-bit converters used by the board.
const MaxSample = 4095

var (
	_ ADC = (*Mock)(nil)
	_ ADC = (*MCP3208)(nil)
)
