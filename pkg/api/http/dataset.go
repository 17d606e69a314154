package http

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/showwhy/discoverd/internal/domain"
)

// parseCSV reads a numeric CSV table with a header row
func parseCSV(r io.Reader, name string) (domain.Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Dataset{}, fmt.Errorf("dataset is empty")
		}
		return domain.Dataset{}, fmt.Errorf("failed to read header: %w", err)
	}

	ds := domain.Dataset{
		Name:    name,
		Columns: make([]domain.Column, len(header)),
	}
	for i, column := range header {
		ds.Columns[i] = domain.Column{
			Name:   strings.TrimSpace(column),
			Values: []float64{},
		}
	}

	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("failed to read row %d: %w", row, err)
		}

		for i, cell := range record {
			value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				return domain.Dataset{}, fmt.Errorf("row %d, column %s: %q is not a finite number",
					row, ds.Columns[i].Name, cell)
			}
			ds.Columns[i].Values = append(ds.Columns[i].Values, value)
		}
	}

	return ds, nil
}
