package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCSV reads a feature table with header `group,label,f0,f1,...`.
// Every row must carry the same number of feature columns.
func LoadCSV(path string) (*InMemory, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset path must not be empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only file

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header from %s: %w", path, err)
	}
	if len(header) < 3 || header[0] != "group" || header[1] != "label" {
		return nil, fmt.Errorf("CSV %s: header must start with group,label and name at least one feature column", path)
	}
	width := len(header) - 2

	var records []Record
	rowIdx := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CSV %s row %d: %w", path, rowIdx, err)
		}
		label, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("CSV %s row %d: invalid label %q: %w", path, rowIdx, row[1], err)
		}
		if label < 0 {
			return nil, fmt.Errorf("CSV %s row %d: label must be non-negative, got %d", path, rowIdx, label)
		}
		features := make([]float64, width)
		for j := 0; j < width; j++ {
			v, err := strconv.ParseFloat(row[j+2], 64)
			if err != nil {
				return nil, fmt.Errorf("CSV %s row %d: invalid feature %s=%q: %w", path, rowIdx, header[j+2], row[j+2], err)
			}
			features[j] = v
		}
		records = append(records, Record{Features: features, Label: label, Group: row[0]})
		rowIdx++
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV: no data rows in %s", path)
	}
	return NewInMemory(records), nil
}
