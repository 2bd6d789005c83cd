package quote

import "github.com/shopspring/decimal"

// Engine computes quotation totals and commissions under a fixed policy.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine constructs an Engine bound to the provided policy.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Calculate prices every line, accumulates the hidden utility, applies the
// segment, deal type and proration adjustments and converts the result into
// commission points and local-currency commission.
func (e *Engine) Calculate(s Scenario, segment Segment) Result {
	days, factor := ResolveProration(s.RequiresProration, s.StartDate, s.EndDate)

	totalMonthlySale := decimal.Zero
	totalSale := decimal.Zero
	utility := decimal.Zero

	for _, line := range s.Lines {
		price := PriceLine(line.CostUnit, line.MarginPercent, line.Quantity, line.ContractMonths)
		totalMonthlySale = totalMonthlySale.Add(price.Monthly)
		totalSale = totalSale.Add(price.Total)

		margin := price.SaleUnit.Sub(line.CostUnit)
		bonus := line.CostUnit.Mul(line.Accelerator)
		lineUtility := margin.Add(bonus).
			Mul(decimal.NewFromInt(int64(line.Quantity))).
			Mul(decimal.NewFromInt(int64(line.ContractMonths)))
		utility = utility.Add(lineUtility)
	}

	adjusted := utility
	if segment == SegmentCorporate {
		adjusted = adjusted.Mul(e.policy.CorporateUtilityBonus)
	}
	adjusted = adjusted.Mul(DealTypeMultiplier(s.DealType))
	adjusted = adjusted.Mul(factor)

	points := Round2(adjusted.Div(e.policy.UtilityPer100Points).Mul(hundred))
	commissionUSD := points.Mul(e.policy.USDPer100Points.Div(hundred))
	commission := Round2(commissionUSD.Mul(e.policy.ExchangeRate))

	return Result{
		TotalMonthlySale: Round2(totalMonthlySale),
		TotalSale:        Round2(totalSale),
		UtilityRaw:       utility,
		UtilityAdjusted:  adjusted,
		ProrationDays:    days,
		ProrationFactor:  factor,
		Points:           points,
		Commission:       commission,
	}
}
