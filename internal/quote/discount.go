package quote

import "github.com/shopspring/decimal"

// LineBreakdown is the per-line figure set rendered by reports.
type LineBreakdown struct {
	LinePrice
	DiscUnit  decimal.Decimal
	DiscMonth decimal.Decimal
	DiscYear  decimal.Decimal
	Savings   decimal.Decimal
}

// CorporateDiscountApplies reports whether the corporate ladder prices this line.
func CorporateDiscountApplies(line Line, segment Segment) bool {
	return segment == SegmentCorporate && line.BusinessType == BusinessModernWork
}

// ComputeLine prices a line for reporting. Corporate ModernWork lines also get
// the discounted ladder and the savings against the undiscounted contract.
func (e *Engine) ComputeLine(line Line, segment Segment) LineBreakdown {
	out := LineBreakdown{
		LinePrice: PriceLine(line.CostUnit, line.MarginPercent, line.Quantity, line.ContractMonths),
		DiscUnit:  decimal.Zero,
		DiscMonth: decimal.Zero,
		DiscYear:  decimal.Zero,
		Savings:   decimal.Zero,
	}
	if !CorporateDiscountApplies(line, segment) {
		return out
	}
	qty := decimal.NewFromInt(int64(line.Quantity))
	months := decimal.NewFromInt(int64(line.ContractMonths))

	out.DiscUnit = Round2(out.SaleUnit.Mul(e.policy.CorporateDiscount))
	out.DiscMonth = Round2(out.DiscUnit.Mul(qty))
	out.DiscYear = Round2(out.DiscMonth.Mul(months))
	out.Savings = Round2(out.SaleUnit.Mul(qty).Mul(months).Sub(out.DiscYear))
	return out
}
