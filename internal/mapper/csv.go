package mapper

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/pingone-bulk-console/internal/models"
)

// RowError records a row that failed mapping, keyed by its line number in
// the uploaded file (header is line 1).
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ReadCSV parses an uploaded CSV into mapped records. The header row is
// required. Rows that fail mapping are reported in the returned RowError
// slice rather than aborting the parse; quoting follows encoding/csv, so
// embedded commas and doubled quotes are handled per RFC 4180.
func ReadCSV(r io.Reader) ([]models.Record, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var records []models.Record
	var rowErrors []RowError
	lineNum := 1 // Start after header

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNum++
		if err != nil {
			rowErrors = append(rowErrors, RowError{Line: lineNum, Message: err.Error()})
			continue
		}

		raw := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				raw[h] = row[i]
			}
		}

		record, err := MapRow(raw)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Line: lineNum, Message: err.Error()})
			continue
		}
		records = append(records, record)
	}

	return records, rowErrors, nil
}
