package quote

import (
	"fmt"
	"strings"
)

var restrictedKeywords = []string{"business", "microsoft 365"}

// LicenseCapError reports a quotation whose restricted license count is not
// allowed for the caller's segment.
type LicenseCapError struct {
	Segment Segment
	Limit   int
	Total   int
}

func (e *LicenseCapError) Error() string {
	if e.Segment == SegmentCorporate {
		return fmt.Sprintf("for Corporate users the total of licenses for products containing \"business\" or \"Microsoft 365\" must be greater than %d. Current total: %d.", e.Limit, e.Total)
	}
	return fmt.Sprintf("for %s users the total of licenses for products containing \"business\" or \"Microsoft 365\" cannot be %d or more. Current total: %d.", e.Segment, e.Limit, e.Total)
}

// IsRestrictedProduct reports whether a product description falls under the
// regulated license keywords.
func IsRestrictedProduct(description string) bool {
	lower := strings.ToLower(description)
	if strings.TrimSpace(lower) == "" {
		return false
	}
	for _, kw := range restrictedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RestrictedQuantity sums the quantity of every restricted line.
func RestrictedQuantity(lines []Line) int {
	total := 0
	for _, line := range lines {
		if IsRestrictedProduct(line.ProductDescription) {
			total += line.Quantity
		}
	}
	return total
}

// ValidateLicenseCaps returns a *LicenseCapError when the scenario breaks the
// segment's license thresholds. Cross-sale deals and empty quotations are never
// restricted; only SMB and Corporate callers have thresholds.
func (e *Engine) ValidateLicenseCaps(s Scenario, segment Segment) error {
	if s.DealType == DealCrossSale || len(s.Lines) == 0 {
		return nil
	}
	total := RestrictedQuantity(s.Lines)
	switch segment {
	case SegmentSMB:
		if total >= e.policy.SMBLicenseCap {
			return &LicenseCapError{Segment: segment, Limit: e.policy.SMBLicenseCap, Total: total}
		}
	case SegmentCorporate:
		if total <= e.policy.CorporateMinimumLicenses {
			return &LicenseCapError{Segment: segment, Limit: e.policy.CorporateMinimumLicenses, Total: total}
		}
	}
	return nil
}
