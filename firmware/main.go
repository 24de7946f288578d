//go:build tinygo && rp2040

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"errors"
	"log"
	"machine"
	"os"
	"time"

	"github.com/itohio/emgarm/pkg/command"
	"github.com/itohio/emgarm/pkg/config"
	"github.com/itohio/emgarm/pkg/pio"
	"github.com/itohio/emgarm/pkg/pipeline"
	"github.com/itohio/emgarm/pkg/pwm"
)

// electrodes reads the EMG front ends on the on-chip ADC.
type electrodes []machine.ADC

// Read returns a 12 bit sample. TinyGo scales conversions to 16 bits.
func (e electrodes) Read(channel int) (uint16, error) {
	return e[channel].Get() >> (16 - ADC_RESOLUTION), nil
}

func main() {
	// Give the USB host a moment to open the port before the first log line.
	time.Sleep(STARTUP_DELAY)

	cfg := config.Default()
	cfg.PIO.ClockHz = machine.CPUFrequency()

	machine.InitADC()
	adc := make(electrodes, len(ADC_PINS))
	for i, pin := range ADC_PINS {
		pin.Configure(machine.PinConfig{Mode: machine.PinAnalog})
		adc[i] = machine.ADC{Pin: pin}
		adc[i].Configure(machine.ADCConfig{
			Reference:  ADC_REFERENCE_MV,
			Resolution: ADC_RESOLUTION,
		})
	}
	cfg.Acquisition.Channels = len(adc)

	pulsers := make([]pwm.Pulser, len(cfg.Servos))
	for i, sc := range cfg.Servos {
		sm := pio.NewRP2040(PIO_BLOCK, uint8(i))
		g, err := pwm.Attach(sm, uint8(sc.Pin), cfg.PIO.ClockHz)
		if err != nil {
			halt("failed to attach servo %s: %v", sc.Name, err)
		}
		pulsers[i] = g
	}

	p, err := pipeline.Build(cfg, adc, pulsers, pipeline.WithDiagnostics(os.Stdout))
	if err != nil {
		halt("configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := p.Run(ctx); err != nil {
			log.Printf("pipeline stopped: %v", err)
		}
	}()

	handler := command.NewHandler(log.Default(), func() {
		cancel()
		machine.EnterBootloader()
	})
	lines := command.NewLineBuffer(COMMAND_BUFFER_SIZE)

	for {
		processSerial(handler, lines)
		time.Sleep(POLL_INTERVAL)
	}
}

// processSerial feeds the available USB bytes to the command handler.
func processSerial(h *command.Handler, lines *command.LineBuffer) {
	for machine.Serial.Buffered() > 0 {
		data, err := machine.Serial.ReadByte()
		if err != nil {
			return
		}
		line, ok := lines.Feed(data)
		if !ok {
			continue
		}
		if err := h.Handle(line); err != nil && !errors.Is(err, command.ErrReboot) {
			log.Printf("command %q: %v", line, err)
		}
	}
}

// halt reports a startup error forever so it can be read after connecting.
func halt(format string, args ...any) {
	for {
		log.Printf(format, args...)
		time.Sleep(time.Second)
	}
}
