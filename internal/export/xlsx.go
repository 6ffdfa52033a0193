package export

import (
	"fmt"
	"time"

	"github.com/jonathan/chart-digitizer/internal/types"
	"github.com/xuri/excelize/v2"
)

const (
	itemsSheet = "Extracted Data"
	chartSheet = "Chart"
)

// XLSX builds a workbook with the extracted fields on the first sheet and the chart record
// on a second one.
func XLSX(chart *types.Chart, items []types.Item) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes the items sheet so it opens first
	if err := f.SetSheetName(f.GetSheetName(0), itemsSheet); err != nil {
		return nil, fmt.Errorf("xlsx rename sheet: %w", err)
	}
	if _, err := f.NewSheet(chartSheet); err != nil {
		return nil, fmt.Errorf("xlsx new sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx header style: %w", err)
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx wrap style: %w", err)
	}

	rows := [][]any{{HeaderName, HeaderValue}}
	for _, it := range items {
		rows = append(rows, []any{it.Name, it.Value})
	}
	if err := writeRows(f, itemsSheet, rows); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(itemsSheet, "A1", "B1", headerStyle)
	if len(items) > 0 {
		last, _ := excelize.CoordinatesToCellName(2, len(items)+1)
		_ = f.SetCellStyle(itemsSheet, "A2", last, wrapStyle)
	}
	_ = f.SetColWidth(itemsSheet, "A", "A", 28)
	_ = f.SetColWidth(itemsSheet, "B", "B", 80)
	_ = f.SetPanes(itemsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	meta := [][]any{
		{"chart_id", chart.ID},
		{"original_filename", chart.OriginalFilename},
		{"content_type", chart.ContentType},
		{"uploaded_at", chart.UploadedAt.UTC().Format(time.RFC3339)},
		{"status", string(chart.Status)},
		{"items", len(items)},
	}
	if err := writeRows(f, chartSheet, meta); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(chartSheet, "A1", fmt.Sprintf("A%d", len(meta)), headerStyle)
	_ = f.SetColWidth(chartSheet, "A", "A", 20)
	_ = f.SetColWidth(chartSheet, "B", "B", 48)

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("xlsx cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx write row %d: %w", i+1, err)
		}
	}
	return nil
}
