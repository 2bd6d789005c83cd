package quote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}

func date(y int, m time.Month, d int) *time.Time {
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func baseLine() Line {
	return Line{
		BusinessType:       BusinessModernWork,
		ProductID:          "p-1",
		ProductDescription: "Exchange Online Plan 1",
		CostUnit:           dec("100"),
		MarginPercent:      dec("20"),
		ContractMonths:     12,
		Quantity:           10,
		Accelerator:        decimal.Zero,
	}
}

func TestPriceLine(t *testing.T) {
	price := PriceLine(dec("100"), dec("20"), 10, 12)
	requireDecimal(t, "120.00", price.SaleUnit)
	requireDecimal(t, "1200.00", price.Monthly)
	requireDecimal(t, "14400.00", price.Total)

	price = PriceLine(dec("10.333"), dec("15"), 3, 6)
	// 10.333 * 1.15 = 11.88295 -> 11.88
	requireDecimal(t, "11.88", price.SaleUnit)
	requireDecimal(t, "35.64", price.Monthly)
	requireDecimal(t, "213.84", price.Total)
}

func TestRound2HalfAwayFromZero(t *testing.T) {
	requireDecimal(t, "0.13", Round2(dec("0.125")))
	requireDecimal(t, "-0.13", Round2(dec("-0.125")))
	requireDecimal(t, "2.67", Round2(dec("2.665")))
}

func TestPriceLineNegativeInputsFlowThrough(t *testing.T) {
	price := PriceLine(dec("-50"), dec("10"), 2, 3)
	requireDecimal(t, "-55.00", price.SaleUnit)
	requireDecimal(t, "-110.00", price.Monthly)
	requireDecimal(t, "-330.00", price.Total)
}

func TestResolveProration(t *testing.T) {
	days, factor := ResolveProration(false, date(2025, 1, 1), date(2025, 12, 31))
	require.Equal(t, 0, days)
	requireDecimal(t, "1", factor)

	days, factor = ResolveProration(true, nil, date(2025, 12, 31))
	require.Equal(t, 0, days)
	requireDecimal(t, "1", factor)

	days, factor = ResolveProration(true, date(2025, 3, 10), date(2025, 3, 10))
	require.Equal(t, 1, days)
	require.True(t, factor.Equal(decimal.NewFromInt(1).Div(decimal.NewFromInt(365))))

	days, factor = ResolveProration(true, date(2025, 3, 10), date(2025, 3, 9))
	require.Equal(t, 0, days)
	requireDecimal(t, "1", factor)

	days, factor = ResolveProration(true, date(2025, 1, 1), date(2025, 12, 31))
	require.Equal(t, 365, days)
	requireDecimal(t, "1", factor)

	days, factor = ResolveProration(true, date(2024, 1, 1), date(2025, 12, 31))
	require.Equal(t, 731, days)
	require.True(t, factor.GreaterThan(decimal.NewFromInt(2)))
}

func TestResolveProrationIgnoresTimeOfDay(t *testing.T) {
	start := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	days, _ := ResolveProration(true, &start, &end)
	require.Equal(t, 2, days)
}

func TestResolveProrationCenturies(t *testing.T) {
	days, factor := ResolveProration(true, date(1700, 1, 1), date(2100, 1, 1))
	require.Equal(t, 146098, days)
	require.True(t, decimal.NewFromInt(146098).Div(decimal.NewFromInt(365)).Equal(factor))
	require.True(t, factor.GreaterThan(decimal.NewFromInt(400)))
}

func TestCalculateCrossSaleSMB(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	result := engine.Calculate(Scenario{DealType: DealCrossSale, Lines: []Line{baseLine()}}, SegmentSMB)

	requireDecimal(t, "1200.00", result.TotalMonthlySale)
	requireDecimal(t, "14400.00", result.TotalSale)
	requireDecimal(t, "2400", result.UtilityRaw)
	requireDecimal(t, "2400", result.UtilityAdjusted)
	require.Equal(t, 0, result.ProrationDays)
	requireDecimal(t, "1", result.ProrationFactor)
	requireDecimal(t, "80.00", result.Points)
	requireDecimal(t, "2280000.00", result.Commission)
}

func TestCalculateCorporateNewCustomer(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	result := engine.Calculate(Scenario{DealType: DealNewCustomer, Lines: []Line{baseLine()}}, SegmentCorporate)

	// 2400 * 1.05 * 1.08
	requireDecimal(t, "2721.6", result.UtilityAdjusted)
	requireDecimal(t, "90.72", result.Points)
	requireDecimal(t, "2585520.00", result.Commission)
}

func TestCalculateWithProration(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	scenario := Scenario{
		DealType:          DealCrossSale,
		RequiresProration: true,
		StartDate:         date(2025, 1, 1),
		EndDate:           date(2025, 1, 31),
		Lines:             []Line{baseLine()},
	}
	result := engine.Calculate(scenario, SegmentSMB)

	require.Equal(t, 31, result.ProrationDays)
	requireDecimal(t, "14400.00", result.TotalSale)
	requireDecimal(t, "6.79", result.Points)
	requireDecimal(t, "193515.00", result.Commission)
}

func TestCalculateDealTypeOrdering(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	deals := []DealType{DealNewCustomer, DealCrossSale, DealRenewal1, DealRenewal2, DealRenewal3Plus}

	var previous *decimal.Decimal
	for _, deal := range deals {
		result := engine.Calculate(Scenario{DealType: deal, Lines: []Line{baseLine()}}, SegmentSMB)
		requireDecimal(t, "2400", result.UtilityRaw)
		if previous != nil {
			require.Truef(t, previous.GreaterThan(result.Commission), "%s commission %s should be below %s", deal, result.Commission, previous)
		}
		c := result.Commission
		previous = &c
	}
}

func TestCalculateUnknownDealTypeIsNeutral(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	neutral := engine.Calculate(Scenario{DealType: DealCrossSale, Lines: []Line{baseLine()}}, SegmentSMB)
	other := engine.Calculate(Scenario{DealType: DealType(42), Lines: []Line{baseLine()}}, SegmentSMB)
	require.True(t, neutral.Commission.Equal(other.Commission))
}

func TestCalculateAcceleratorOnlyAffectsUtility(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	line := baseLine()
	line.MarginPercent = decimal.Zero
	line.Quantity = 1
	line.Accelerator = dec("0.05")

	result := engine.Calculate(Scenario{DealType: DealCrossSale, Lines: []Line{line}}, SegmentSMB)
	requireDecimal(t, "100.00", result.TotalMonthlySale)
	requireDecimal(t, "1200.00", result.TotalSale)
	// (0 + 100*0.05) * 1 * 12
	requireDecimal(t, "60", result.UtilityRaw)
	requireDecimal(t, "2.00", result.Points)
}

func TestCalculateEmptyScenario(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	result := engine.Calculate(Scenario{DealType: DealNewCustomer}, SegmentCorporate)
	require.True(t, result.UtilityRaw.IsZero())
	require.True(t, result.Points.IsZero())
	require.True(t, result.Commission.IsZero())
	require.True(t, result.TotalSale.IsZero())
}

func TestResultHidesUtility(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	result := engine.Calculate(Scenario{DealType: DealCrossSale, Lines: []Line{baseLine()}}, SegmentSMB)
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "tility")
	require.Contains(t, string(raw), "commission")
}
