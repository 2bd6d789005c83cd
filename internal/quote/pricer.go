package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	daysPerYear   = 365
	secondsPerDay = 24 * 60 * 60
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// LinePrice is the visible pricing of one line.
type LinePrice struct {
	SaleUnit decimal.Decimal
	Monthly  decimal.Decimal
	Total    decimal.Decimal
}

// PriceLine computes the unit sale price, the monthly amount and the contract
// total. The unit price is rounded before it is multiplied out. Negative inputs
// are not rejected.
func PriceLine(costUnit, marginPercent decimal.Decimal, quantity, months int) LinePrice {
	saleUnit := Round2(costUnit.Mul(one.Add(marginPercent.Div(hundred))))
	monthly := Round2(saleUnit.Mul(decimal.NewFromInt(int64(quantity))))
	total := Round2(monthly.Mul(decimal.NewFromInt(int64(months))))
	return LinePrice{SaleUnit: saleUnit, Monthly: monthly, Total: total}
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// ResolveProration turns an optional date range into an inclusive day count
// and a fraction of a 365-day year. Without a usable range it returns (0, 1),
// which leaves utility untouched.
func ResolveProration(required bool, start, end *time.Time) (int, decimal.Decimal) {
	if !required || start == nil || end == nil {
		return 0, one
	}
	s := civilDate(*start)
	e := civilDate(*end)
	if e.Before(s) {
		return 0, one
	}
	days := int((e.Unix()-s.Unix())/secondsPerDay) + 1
	factor := decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(daysPerYear))
	return days, factor
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
