package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadCSV reads a headed CSV stream into rows keyed by header name. maxRows
// caps the number of data rows read; zero means no cap.
func ReadCSV(r io.Reader, maxRows int) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = normalizeHeader(header[i])
	}
	rows := []map[string]any{}
	for maxRows <= 0 || len(rows) < maxRows {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", len(rows)+2, err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadCSVFile reads a CSV file. A missing file is reported, not returned as
// an error.
func ReadCSVFile(path string, maxRows int) (rows []map[string]any, missing bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []map[string]any{}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	rows, err = ReadCSV(f, maxRows)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return rows, false, nil
}
