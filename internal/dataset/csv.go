package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// timeLayout is the date format the feature-engineering pipeline emits
const timeLayout = "2006-01-02"

// LoadCSV reads the tabular dataset handed over by the feature pipeline.
// The first record is the header; the time column parses as YYYY-MM-DD,
// the entity column is kept as a string key, and every other column must
// be numeric.
func LoadCSV(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses CSV content into a Dataset
func ReadCSV(r io.Reader, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()

	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, &DataError{Reason: fmt.Sprintf("missing header: %v", err)}
	}

	timeIdx, entityIdx := -1, -1
	for i, col := range header {
		switch col {
		case opts.TimeColumn:
			timeIdx = i
		case opts.EntityColumn:
			entityIdx = i
		}
	}
	if timeIdx < 0 {
		return nil, &DataError{Reason: fmt.Sprintf("time column %q not found", opts.TimeColumn)}
	}
	if entityIdx < 0 {
		return nil, &DataError{Reason: fmt.Sprintf("entity column %q not found", opts.EntityColumn)}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DataError{Reason: fmt.Sprintf("line %d: %v", line+1, err)}
		}
		line++

		ts, err := time.Parse(timeLayout, record[timeIdx])
		if err != nil {
			return nil, &DataError{Reason: fmt.Sprintf("line %d: bad %s value %q", line, opts.TimeColumn, record[timeIdx])}
		}

		values := make(map[string]float64, len(header)-2)
		for i, col := range header {
			if i == timeIdx || i == entityIdx {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, &DataError{Reason: fmt.Sprintf("line %d: column %q is not numeric: %q", line, col, record[i])}
			}
			values[col] = v
		}

		rows = append(rows, Row{
			Time:   ts.UTC(),
			Entity: record[entityIdx],
			Values: values,
		})
	}

	return New(rows, opts)
}
