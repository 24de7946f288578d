package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/itohio/emgarm/pkg/classifier"
)

// LabelColumn is the name of the last CSV column.
const LabelColumn = "label"

// Sample is one labelled feature vector.
type Sample struct {
	Features []float64
	Label    classifier.Gesture
}

// DatasetWriter writes labelled feature vectors as CSV rows of values
// followed by the gesture name. The header is written with the first row and
// fixes the row width.
type DatasetWriter struct {
	w       *csv.Writer
	width   int
	rows    int
	resumed bool
}

// NewDatasetWriter returns a writer on w.
func NewDatasetWriter(w io.Writer) *DatasetWriter {
	return &DatasetWriter{w: csv.NewWriter(w)}
}

// ResumeDatasetWriter continues a dataset whose header, with width feature
// columns, is already written. Rows are appended to w.
func ResumeDatasetWriter(w io.Writer, width int) *DatasetWriter {
	return &DatasetWriter{w: csv.NewWriter(w), width: width, resumed: true}
}

// Write appends one row.
func (d *DatasetWriter) Write(features []float64, label classifier.Gesture) error {
	if !label.Known() {
		return fmt.Errorf("cannot record %s samples", label)
	}
	if d.rows == 0 && !d.resumed {
		d.width = len(features)
		header := make([]string, 0, d.width+1)
		for i := range d.width {
			header = append(header, "f"+strconv.Itoa(i))
		}
		if err := d.w.Write(append(header, LabelColumn)); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if len(features) != d.width {
		return fmt.Errorf("row has %d features, dataset has %d", len(features), d.width)
	}

	record := make([]string, 0, d.width+1)
	for _, v := range features {
		record = append(record, strconv.FormatFloat(v, 'f', -1, 32))
	}
	if err := d.w.Write(append(record, label.String())); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	d.rows++
	return nil
}

// Rows returns the number of rows written.
func (d *DatasetWriter) Rows() int {
	return d.rows
}

// Flush writes buffered rows to the underlying writer.
func (d *DatasetWriter) Flush() error {
	d.w.Flush()
	return d.w.Error()
}

// DatasetWidth reads the header of a dataset and returns its feature count.
func DatasetWidth(r io.Reader) (int, error) {
	header, err := csv.NewReader(r).Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	return checkHeader(header)
}

func checkHeader(header []string) (int, error) {
	if len(header) == 0 || header[len(header)-1] != LabelColumn {
		return 0, fmt.Errorf("last column must be %q", LabelColumn)
	}
	return len(header) - 1, nil
}

// ReadDataset reads a dataset written by DatasetWriter.
func ReadDataset(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if _, err := checkHeader(header); err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(header)

	var out []Sample
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(out)+1, err)
		}

		features := make([]float64, len(record)-1)
		for i, s := range record[:len(record)-1] {
			if features[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", len(out)+1, i, err)
			}
		}
		label, err := classifier.ParseGesture(record[len(record)-1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(out)+1, err)
		}
		out = append(out, Sample{Features: features, Label: label})
	}
}
