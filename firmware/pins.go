//go:build tinygo && rp2040

package main

import (
	"machine"
	"time"
)

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Servo outputs run on PIO0, one state machine per servo. The output pins
	// come from the servos section of the configuration.
	PIO_BLOCK = 0

	// Serial configuration
	// Each feature frame is 96 values of at most ~11 bytes plus the
	// delimiters, ~1.1 kB per window. One window every 64 ms is ~17 kB/s,
	// which USB CDC carries with plenty of headroom.
	COMMAND_BUFFER_SIZE = 32

	STARTUP_DELAY = 2 * time.Second
	POLL_INTERVAL = 10 * time.Millisecond
)

// EMG electrode front ends, one per channel.
var ADC_PINS = []machine.Pin{machine.ADC0, machine.ADC1, machine.ADC2}
