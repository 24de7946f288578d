// emgarm runs the EMG gesture controller on a Linux host and talks to the
// microcontroller build over USB serial.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/itohio/emgarm/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

var (
	configPath string
	logFile    string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "emgarm",
		Short: "EMG gesture controller for a servo hand",
		Long: `emgarm classifies surface EMG into hand gestures and drives the
thumb, finger and wrist servos.

Commands:
  run              Run the controller on this host
  capture <label>  Record labelled feature vectors from the device log
  send <command>   Send a control command to the device
  ports            List serial ports
  model            Inspect or convert model artifacts`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotated file (overrides log.file)")

	root.AddCommand(
		runCmd(),
		captureCmd(),
		sendCmd(),
		portsCmd(),
		modelCmd(),
	)
	return root
}

// setup loads the configuration and routes the standard logger. The returned
// function restores the previous log output.
func setup(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	file := cfg.Log.File
	if logFile != "" {
		file = logFile
	}

	var out io.Writer = cmd.ErrOrStderr()
	var closer io.Closer
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			LocalTime:  true,
		}
		out, closer = lj, lj
	}

	prev := log.Writer()
	log.SetOutput(out)
	return cfg, func() {
		log.SetOutput(prev)
		if closer != nil {
			closer.Close()
		}
	}, nil
}
