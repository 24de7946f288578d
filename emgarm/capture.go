package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/emgarm/pkg/capture"
	"github.com/itohio/emgarm/pkg/classifier"
	"github.com/spf13/cobra"
)

func captureCmd() *cobra.Command {
	var (
		port   string
		output string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "capture <label>",
		Short: "Record labelled feature vectors from the device log",
		Long: `capture reads the NewData/EndData frames the device prints for every
window and appends them to a CSV dataset with the given gesture label
(relax, thumbs_up or pinch). An existing dataset keeps its rows; the
frames must match its width.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			label, err := classifier.ParseGesture(args[0])
			if err != nil {
				return err
			}
			if !label.Known() {
				return fmt.Errorf("cannot record %s samples", label)
			}

			cfg, restore, err := setup(cmd)
			if err != nil {
				return err
			}
			defer restore()
			if port != "" {
				cfg.Serial.Port = port
			}

			var dataset *capture.DatasetWriter
			if output == "-" {
				dataset = capture.NewDatasetWriter(cmd.OutOrStdout())
			} else {
				f, d, oerr := openDataset(output, cfg.FeatureLen())
				if oerr != nil {
					return oerr
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("failed to close dataset: %w", cerr)
					}
				}()
				dataset = d
			}

			link := capture.New(cfg.Serial.Port, cfg.Serial.BaudRate, 0, cfg.FeatureLen(), log.Default())
			if err := link.Connect(); err != nil {
				return err
			}
			defer link.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Printf("capturing %s from %s", label, cfg.Serial.Port)
			return record(ctx, link.Frames(), dataset, label, count)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Dataset file, appended to (- = stdout)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many frames (0 = until interrupted)")
	return cmd
}

// openDataset opens path for appending. A non-empty file must have been
// written with width features.
func openDataset(path string, width int) (*os.File, *capture.DatasetWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	if info.Size() == 0 {
		return f, capture.NewDatasetWriter(f), nil
	}

	existing, err := capture.DatasetWidth(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if existing != width {
		f.Close()
		return nil, nil, fmt.Errorf("%s has %d features, frames have %d", path, existing, width)
	}
	return f, capture.ResumeDatasetWriter(f, existing), nil
}

// record writes labelled frames until count rows are written, frames closes
// or ctx is done.
func record(ctx context.Context, frames <-chan []float64, d *capture.DatasetWriter, label classifier.Gesture, count int) error {
	for count == 0 || d.Rows() < count {
		select {
		case <-ctx.Done():
			return finish(d)
		case frame, ok := <-frames:
			if !ok {
				return finish(d)
			}
			if err := d.Write(frame, label); err != nil {
				return err
			}
		}
	}
	return finish(d)
}

func finish(d *capture.DatasetWriter) error {
	if err := d.Flush(); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	log.Printf("captured %d frames", d.Rows())
	return nil
}
