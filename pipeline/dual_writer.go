package pipeline

import (
	"fmt"
	"strings"
	"sync"

	cerrors "cloudeng.io/errors"

	"github.com/aluiziolira/civic-crawler/models"
)

// DualWriter sends every batch to a CSV summary file and a JSONL file.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens both outputs. The CSV file is closed again when the
// JSONL one cannot be opened.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("dual writer csv: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("dual writer json: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes the batch to both outputs.
func (dw *DualWriter) Write(records []*models.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(records); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(records); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

// Close closes both writers and reports every failure.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	errs := &cerrors.M{}
	errs.Append(dw.csvWriter.Close())
	errs.Append(dw.jsonWriter.Close())
	return errs.Err()
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	errs := &cerrors.M{}
	errs.Append(dw.csvWriter.Validate())
	errs.Append(dw.jsonWriter.Validate())
	return errs.Err()
}

// NewWriter creates the writer for format: csv, json or dual. For dual
// output the JSONL file sits next to filename with a .jsonl extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		base := strings.TrimSuffix(strings.TrimSuffix(filename, ".csv"), ".jsonl")
		return NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
