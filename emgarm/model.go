package main

import (
	"fmt"
	"io"
	"os"

	"github.com/itohio/emgarm/pkg/classifier"
	"github.com/itohio/emgarm/pkg/model"
	"github.com/spf13/cobra"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect or convert model artifacts",
	}
	cmd.AddCommand(modelInspectCmd(), modelConvertCmd())
	return cmd
}

func modelInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the layers of a model (default: the embedded one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				w   *model.Weights
				err error
			)
			if len(args) == 0 {
				w, err = model.Default()
			} else {
				w, err = model.Load(args[0])
			}
			if err != nil {
				return err
			}
			printModel(cmd.OutOrStdout(), w)
			return nil
		},
	}
}

func printModel(out io.Writer, w *model.Weights) {
	fmt.Fprintf(out, "precision: float%d\n", w.Precision)
	for i, l := range w.Layers {
		fmt.Fprintf(out, "layer %d: %d -> %d\n", i, l.In, l.Out)
	}
	fmt.Fprintf(out, "parameters: %d\n", w.ParamCount())
	if w.OutputLen() == classifier.GestureCount {
		fmt.Fprintf(out, "outputs: %v\n", classifier.Gestures())
	}
}

func modelConvertCmd() *cobra.Command {
	var precision int

	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Rewrite a model with another parameter precision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.Precision(precision)
			if p != model.Float32 && p != model.Float16 {
				return fmt.Errorf("precision must be 32 or 16, got %d", precision)
			}

			w, err := model.Load(args[0])
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[1], err)
			}
			if err := w.Encode(f, p); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (float%d, %d parameters)\n", args[1], p, w.ParamCount())
			return nil
		},
	}

	cmd.Flags().IntVar(&precision, "precision", 16, "Parameter precision: 32 or 16")
	return cmd
}
