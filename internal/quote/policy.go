package quote

import "github.com/shopspring/decimal"

// Policy groups the business constants used by the engine. It is built once at
// startup and never mutated afterwards.
type Policy struct {
	// USDPer100Points is the dollar value of 100 commission points.
	USDPer100Points decimal.Decimal
	// ExchangeRate converts commission dollars to local currency.
	ExchangeRate decimal.Decimal
	// UtilityPer100Points is the adjusted utility that earns 100 points.
	UtilityPer100Points decimal.Decimal
	// CorporateUtilityBonus multiplies utility for Corporate callers.
	CorporateUtilityBonus decimal.Decimal
	// CorporateDiscount is the unit price multiplier of the corporate ladder.
	CorporateDiscount decimal.Decimal
	// SMBLicenseCap is the exclusive upper bound of restricted licenses for SMB.
	SMBLicenseCap int
	// CorporateMinimumLicenses must be exceeded by Corporate quotations.
	CorporateMinimumLicenses int
}

// DefaultPolicy returns the fixed commercial policy.
func DefaultPolicy() Policy {
	return Policy{
		USDPer100Points:          decimal.NewFromInt(750),
		ExchangeRate:             decimal.NewFromInt(3800),
		UtilityPer100Points:      decimal.NewFromInt(3000),
		CorporateUtilityBonus:    decimal.RequireFromString("1.05"),
		CorporateDiscount:        decimal.RequireFromString("0.9"),
		SMBLicenseCap:            300,
		CorporateMinimumLicenses: 300,
	}
}

// DealTypeMultiplier scales utility by the commercial nature of the deal.
func DealTypeMultiplier(d DealType) decimal.Decimal {
	switch d {
	case DealNewCustomer:
		return decimal.RequireFromString("1.08")
	case DealCrossSale:
		return decimal.NewFromInt(1)
	case DealRenewal1:
		return decimal.RequireFromString("0.50")
	case DealRenewal2:
		return decimal.RequireFromString("0.25")
	case DealRenewal3Plus:
		return decimal.RequireFromString("0.20")
	default:
		return decimal.NewFromInt(1)
	}
}
