package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/emgarm/pkg/config"
	"github.com/itohio/emgarm/pkg/emg"
	"github.com/itohio/emgarm/pkg/pio"
	"github.com/itohio/emgarm/pkg/pipeline"
	"github.com/itohio/emgarm/pkg/pwm"
	"github.com/itohio/emgarm/pkg/telemetry"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

// Emulated state machines run at 3 MHz: one counter step per microsecond.
const emulatorClock = 3_000_000

func runCmd() *cobra.Command {
	var (
		adcBackend string
		pwmBackend string
		spiPort    string
		spiClock   int64
		dump       bool
		duration   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller on this host",
		Long: `run acquires EMG, classifies gestures and drives the servos until
interrupted.

ADC backends:
  mock      synthetic EMG with bursts moving across the channels
  mcp3208   MCP3208 on a SPI port

PWM backends:
  emulator  PIO program on emulated state machines
  periph    hardware PWM pins GPIO<pin> from the servos section`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, restore, err := setup(cmd)
			if err != nil {
				return err
			}
			defer restore()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, duration)
				defer stop()
			}

			adc, closeADC, err := openADC(adcBackend, spiPort, physic.Frequency(spiClock)*physic.Hertz, cfg)
			if err != nil {
				return err
			}
			defer closeADC()

			pulsers, err := openPulsers(ctx, pwmBackend, cfg)
			if err != nil {
				return err
			}

			opts := []pipeline.Option{pipeline.WithLogger(log.Default())}
			if dump {
				opts = append(opts, pipeline.WithDiagnostics(cmd.OutOrStdout()))
			}
			if cfg.Telemetry.Broker != "" {
				pub, err := telemetry.Connect(cfg.Telemetry.Broker, cfg.Telemetry.ClientID, cfg.Telemetry.Topic)
				if err != nil {
					return err
				}
				defer pub.Close()
				opts = append(opts, pipeline.WithPublisher(pub))
			}

			p, err := pipeline.Build(cfg, adc, pulsers, opts...)
			if err != nil {
				return err
			}

			log.Printf("running %d channels, window %d at %g Hz, %s adc, %s pwm",
				cfg.Acquisition.Channels, cfg.Acquisition.WindowSize, cfg.Acquisition.SampleRateHz, adcBackend, pwmBackend)
			err = p.Run(ctx)
			log.Printf("stopped after %d decisions", p.Decisions())
			return err
		},
	}

	cmd.Flags().StringVar(&adcBackend, "adc", "mock", "ADC backend: mock or mcp3208")
	cmd.Flags().StringVar(&pwmBackend, "pwm", "emulator", "PWM backend: emulator or periph")
	cmd.Flags().StringVar(&spiPort, "spi", "", "SPI port for the mcp3208 backend (empty = first available)")
	cmd.Flags().Int64Var(&spiClock, "spi-clock", 1_000_000, "SPI clock in Hz")
	cmd.Flags().BoolVar(&dump, "dump", false, "Write NewData/EndData feature frames to stdout")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	return cmd
}

func openADC(backend, spiPort string, clock physic.Frequency, cfg *config.Config) (emg.ADC, func(), error) {
	switch backend {
	case "mock":
		a := cfg.Acquisition
		m, err := emg.NewMock(&cfg.Mock, a.Channels, a.SampleRateHz, a.MainsHz)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	case "mcp3208":
		m, err := emg.OpenMCP3208(spiPort, clock)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			if err := m.Close(); err != nil {
				log.Printf("failed to close adc: %v", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown adc backend %q", backend)
}

// openPulsers returns one pulse output per configured servo. Emulated state
// machines are clocked in real time until ctx is done.
func openPulsers(ctx context.Context, backend string, cfg *config.Config) ([]pwm.Pulser, error) {
	pulsers := make([]pwm.Pulser, 0, len(cfg.Servos))
	for _, sc := range cfg.Servos {
		switch backend {
		case "emulator":
			emu := pio.NewEmulator()
			g, err := pwm.Attach(emu, uint8(sc.Pin), emulatorClock)
			if err != nil {
				return nil, fmt.Errorf("servo %s: %w", sc.Name, err)
			}
			go emu.Run(ctx, emulatorClock, time.Millisecond)
			pulsers = append(pulsers, g)
		case "periph":
			p, err := pwm.OpenPeriph(fmt.Sprintf("GPIO%d", sc.Pin))
			if err != nil {
				return nil, fmt.Errorf("servo %s: %w", sc.Name, err)
			}
			pulsers = append(pulsers, p)
		default:
			return nil, fmt.Errorf("unknown pwm backend %q", backend)
		}
	}
	return pulsers, nil
}
