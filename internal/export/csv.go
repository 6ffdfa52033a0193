// Package export renders extracted chart fields as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jonathan/chart-digitizer/internal/types"
)

// Column headers shared by every export format.
const (
	HeaderName  = "項目名"
	HeaderValue = "内容"
)

const (
	CSVContentType  = "text/csv; charset=utf-8"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// WriteCSV writes the two-column header then one row per item in order.
func WriteCSV(w io.Writer, items []types.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{HeaderName, HeaderValue}); err != nil {
		return fmt.Errorf("csv write header: %w", err)
	}
	for _, it := range items {
		if err := cw.Write([]string{it.Name, it.Value}); err != nil {
			return fmt.Errorf("csv write row %q: %w", it.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	return nil
}

// Filename returns the attachment name for a chart export, e.g. chart_<id>.csv.
func Filename(chartID, ext string) string {
	return fmt.Sprintf("chart_%s.%s", chartID, ext)
}

// ContentDisposition returns the attachment header value.
func ContentDisposition(chartID, ext string) string {
	return "attachment; filename=" + Filename(chartID, ext)
}
