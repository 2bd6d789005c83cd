// Package report turns a quotation into the tabular model behind the
// spreadsheet export and renders it with excelize.
package report

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
)

// Column headers, in sheet order.
const (
	ColType           = "Type"
	ColProduct        = "Product"
	ColMargin         = "Margin %"
	ColDuration       = "Duration (months)"
	ColUnitSale       = "Unit Sale"
	ColQuantity       = "Quantity"
	ColMonthlySale    = "Monthly Sale"
	ColTotalSale      = "Total Sale"
	ColDiscUnit       = "Corp. Disc. Unit"
	ColDiscMonth      = "Corp. Disc. Month"
	ColDiscYear       = "Corp. Disc. Year"
	ColAnnualSavings  = "Annual Savings"
	ColSuggestedPrice = "Suggested Price"
)

// Row is one quotation line as shown in the sheet.
type Row struct {
	BusinessType  string
	Product       string
	MarginPercent decimal.Decimal
	Months        int
	Quantity      int
	Suggested     decimal.Decimal
	quote.LineBreakdown
}

// Totals aggregates the numeric columns. Unit-based columns are weighted by quantity.
type Totals struct {
	SaleUnit  decimal.Decimal
	Monthly   decimal.Decimal
	Total     decimal.Decimal
	DiscUnit  decimal.Decimal
	DiscMonth decimal.Decimal
	DiscYear  decimal.Decimal
	Savings   decimal.Decimal
	Suggested decimal.Decimal
}

// Table is the computed content of a quotation export.
type Table struct {
	ScenarioName string
	Segment      quote.Segment
	DealType     quote.DealType
	Proration    string
	Corporate    bool
	Columns      []string
	Rows         []Row
	Totals       Totals
}

// BuildTable recomputes every line through the engine's report-path pricing and
// aggregates column totals. Proration is empty unless the scenario requests it.
func BuildTable(engine *quote.Engine, s quote.Scenario, segment quote.Segment) Table {
	t := Table{
		ScenarioName: s.Name,
		Segment:      segment,
		DealType:     s.DealType,
		Corporate:    segment == quote.SegmentCorporate,
	}
	if s.RequiresProration {
		if s.StartDate != nil && s.EndDate != nil {
			t.Proration = s.StartDate.Format("2006-01-02") + " to " + s.EndDate.Format("2006-01-02")
		} else {
			t.Proration = "pending proration dates"
		}
	}

	t.Columns = []string{ColType, ColProduct, ColMargin, ColDuration, ColUnitSale, ColQuantity, ColMonthlySale, ColTotalSale}
	if t.Corporate {
		t.Columns = append(t.Columns, ColDiscUnit, ColDiscMonth, ColDiscYear, ColAnnualSavings)
	}
	t.Columns = append(t.Columns, ColSuggestedPrice)

	var sum Totals
	for _, line := range s.Lines {
		computed := engine.ComputeLine(line, segment)
		qty := decimal.NewFromInt(int64(line.Quantity))
		t.Rows = append(t.Rows, Row{
			BusinessType:  line.BusinessType.String(),
			Product:       line.ProductDescription,
			MarginPercent: quote.Round2(line.MarginPercent),
			Months:        line.ContractMonths,
			Quantity:      line.Quantity,
			Suggested:     quote.Round2(line.SuggestedRetailPrice),
			LineBreakdown: computed,
		})

		sum.SaleUnit = sum.SaleUnit.Add(computed.SaleUnit.Mul(qty))
		sum.Monthly = sum.Monthly.Add(computed.Monthly)
		sum.Total = sum.Total.Add(computed.Total)
		sum.Suggested = sum.Suggested.Add(line.SuggestedRetailPrice.Mul(qty))
		sum.DiscUnit = sum.DiscUnit.Add(computed.DiscUnit.Mul(qty))
		sum.DiscMonth = sum.DiscMonth.Add(computed.DiscMonth)
		sum.DiscYear = sum.DiscYear.Add(computed.DiscYear)
		sum.Savings = sum.Savings.Add(computed.Savings)
	}
	t.Totals = Totals{
		SaleUnit:  quote.Round2(sum.SaleUnit),
		Monthly:   quote.Round2(sum.Monthly),
		Total:     quote.Round2(sum.Total),
		DiscUnit:  quote.Round2(sum.DiscUnit),
		DiscMonth: quote.Round2(sum.DiscMonth),
		DiscYear:  quote.Round2(sum.DiscYear),
		Savings:   quote.Round2(sum.Savings),
		Suggested: quote.Round2(sum.Suggested),
	}
	return t
}

// invalidFileNameChars covers the characters rejected by common file systems.
const invalidFileNameChars = "<>:\"/\\|?*"

// FileName derives the download name from the scenario name, replacing runs of
// characters that are invalid in file names with underscores.
func FileName(scenarioName string) string {
	parts := strings.FieldsFunc(scenarioName, func(r rune) bool {
		return r < 0x20 || strings.ContainsRune(invalidFileNameChars, r)
	})
	safe := strings.TrimSpace(strings.Join(parts, "_"))
	if safe == "" {
		safe = "Quotation"
	}
	return safe + ".xlsx"
}
