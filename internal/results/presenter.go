package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pingone-bulk-console/internal/models"
)

// DefaultPageSize is used when a page request does not specify a size
const DefaultPageSize = 25

// RowClass is the visual classification of one result row
type RowClass string

const (
	ClassSuccess RowClass = "success"
	ClassSkipped RowClass = "skipped"
	ClassError   RowClass = "error"
)

// Classify maps a result status onto its visual class. Skipped is its own
// class, distinct from both success and error.
func Classify(status models.ResultStatus) RowClass {
	switch {
	case status.IsSuccess():
		return ClassSuccess
	case status == models.ResultSkipped:
		return ClassSkipped
	default:
		return ClassError
	}
}

// Page is one page of an operation's result list
type Page struct {
	Results    []models.OperationResult `json:"results"`
	PageIndex  int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalPages int                      `json:"total_pages"`
	Total      int                      `json:"total"`
}

// Paginate slices the full result list into a single page. Page indexes
// start at 1; out-of-range indexes clamp to the nearest valid page.
func Paginate(all []models.OperationResult, pageIndex, pageSize int) Page {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	total := len(all)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if pageIndex < 1 {
		pageIndex = 1
	}
	if pageIndex > totalPages {
		pageIndex = totalPages
	}

	start := (pageIndex - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page{
		Results:    all[start:end],
		PageIndex:  pageIndex,
		PageSize:   pageSize,
		TotalPages: totalPages,
		Total:      total,
	}
}

// WriteCSV serializes the full result list with columns Row, Identifier,
// Status, Message. encoding/csv doubles embedded quotes per RFC 4180, so
// the export round-trips through any standard CSV parser.
func WriteCSV(w io.Writer, all []models.OperationResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Row", "Identifier", "Status", "Message"}); err != nil {
		return err
	}
	for i, r := range all {
		row := []string{strconv.Itoa(i + 1), r.Identifier, string(r.Status), r.Message}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportFilename builds the timestamped attachment name for an export
func ExportFilename(kind models.OperationKind, now time.Time) string {
	return fmt.Sprintf("pingone-%s-results-%s.csv", kind, now.Format("20060102-150405"))
}
