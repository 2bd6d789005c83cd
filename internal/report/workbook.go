package report

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// SheetName is the single worksheet of an export.
const SheetName = "Quotation"

// ContentType is the MIME type of rendered exports.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const placeholder = "—"

var (
	currencyFormat = "#,##0.00"
	integerFormat  = "0"
)

// Render writes the table into an xlsx workbook and returns its bytes.
func Render(t Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	currencyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &currencyFormat})
	if err != nil {
		return nil, fmt.Errorf("currency style: %w", err)
	}
	integerStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &integerFormat})
	if err != nil {
		return nil, fmt.Errorf("integer style: %w", err)
	}

	w := sheetWriter{f: f}
	row := 1
	w.set(1, row, "Scenario")
	w.set(2, row, t.ScenarioName)
	row++
	w.set(1, row, "Segment")
	w.set(2, row, t.Segment.String())
	row++
	w.set(1, row, "Deal type")
	w.set(2, row, t.DealType.String())
	row++
	if t.Proration != "" {
		w.set(1, row, "Proration")
		w.set(2, row, t.Proration)
		row++
	}
	row++

	col := columnIndex(t.Columns)
	headerRow := row
	for i, name := range t.Columns {
		w.set(i+1, headerRow, name)
	}
	w.style(1, headerRow, len(t.Columns), headerRow, headerStyle)
	row++

	for _, r := range t.Rows {
		w.set(col[ColType], row, r.BusinessType)
		w.set(col[ColProduct], row, r.Product)
		w.set(col[ColMargin], row, num(r.MarginPercent))
		w.set(col[ColDuration], row, r.Months)
		w.set(col[ColUnitSale], row, num(r.SaleUnit))
		w.set(col[ColQuantity], row, r.Quantity)
		w.set(col[ColMonthlySale], row, num(r.Monthly))
		w.set(col[ColTotalSale], row, num(r.Total))
		if t.Corporate {
			w.set(col[ColDiscUnit], row, num(r.DiscUnit))
			w.set(col[ColDiscMonth], row, num(r.DiscMonth))
			w.set(col[ColDiscYear], row, num(r.DiscYear))
			w.set(col[ColAnnualSavings], row, num(r.Savings))
		}
		w.set(col[ColSuggestedPrice], row, num(r.Suggested))
		row++
	}

	w.set(col[ColType], row, "Totals")
	w.set(col[ColMargin], row, placeholder)
	w.set(col[ColDuration], row, placeholder)
	w.set(col[ColUnitSale], row, num(t.Totals.SaleUnit))
	w.set(col[ColQuantity], row, placeholder)
	w.set(col[ColMonthlySale], row, num(t.Totals.Monthly))
	w.set(col[ColTotalSale], row, num(t.Totals.Total))
	if t.Corporate {
		w.set(col[ColDiscUnit], row, num(t.Totals.DiscUnit))
		w.set(col[ColDiscMonth], row, num(t.Totals.DiscMonth))
		w.set(col[ColDiscYear], row, num(t.Totals.DiscYear))
		w.set(col[ColAnnualSavings], row, num(t.Totals.Savings))
	}
	w.set(col[ColSuggestedPrice], row, num(t.Totals.Suggested))

	if row > headerRow {
		w.style(1, headerRow+1, len(t.Columns), row, currencyStyle)
		w.style(col[ColDuration], headerRow+1, col[ColDuration], row, integerStyle)
		w.style(col[ColQuantity], headerRow+1, col[ColQuantity], row, integerStyle)
	}
	w.widths(len(t.Columns))
	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first excelize error so cell writes can be chained.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) set(col, row int, value any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(SheetName, cell, value)
}

func (w *sheetWriter) style(fromCol, fromRow, toCol, toRow, styleID int) {
	if w.err != nil {
		return
	}
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow)
	if err != nil {
		w.err = err
		return
	}
	to, err := excelize.CoordinatesToCellName(toCol, toRow)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(SheetName, from, to, styleID)
}

func (w *sheetWriter) widths(columns int) {
	if w.err != nil || columns == 0 {
		return
	}
	last, err := excelize.ColumnNumberToName(columns)
	if err != nil {
		w.err = err
		return
	}
	if w.err = w.f.SetColWidth(SheetName, "A", last, 16); w.err != nil {
		return
	}
	w.err = w.f.SetColWidth(SheetName, "B", "B", 42)
}

func columnIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, name := range columns {
		idx[name] = i + 1
	}
	return idx
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
