package quote

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Segment is the caller's commercial classification.
type Segment int

const (
	SegmentUnknown Segment = iota
	SegmentSMB
	SegmentCorporate
	SegmentSuper
)

var segmentNames = []string{"Unknown", "SMB", "Corporate", "Super"}

func (s Segment) String() string {
	if s < 0 || int(s) >= len(segmentNames) {
		return segmentNames[SegmentUnknown]
	}
	return segmentNames[s]
}

// ParseSegment maps a segment name to its value. Unrecognised names yield SegmentUnknown.
func ParseSegment(name string) Segment {
	trimmed := strings.TrimSpace(name)
	for i, candidate := range segmentNames {
		if strings.EqualFold(candidate, trimmed) {
			return Segment(i)
		}
	}
	return SegmentUnknown
}

// MarshalJSON renders the segment by name.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the segment name or ordinal; unknown names decode to
// SegmentUnknown.
func (s *Segment) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, segmentNames)
	if err != nil || v < 0 || v >= len(segmentNames) {
		*s = SegmentUnknown
		return nil
	}
	*s = Segment(v)
	return nil
}

// DealType classifies the commercial nature of a quotation.
type DealType int

const (
	DealNewCustomer DealType = iota
	DealCrossSale
	DealRenewal1
	DealRenewal2
	DealRenewal3Plus
)

var dealTypeNames = []string{"NewCustomer", "CrossSale", "Renewal1", "Renewal2", "Renewal3Plus"}

func (d DealType) String() string {
	if d < 0 || int(d) >= len(dealTypeNames) {
		return "DealType(" + strconv.Itoa(int(d)) + ")"
	}
	return dealTypeNames[d]
}

// UnmarshalJSON accepts either the ordinal or the name.
func (d *DealType) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, dealTypeNames)
	if err != nil {
		return fmt.Errorf("deal type: %w", err)
	}
	*d = DealType(v)
	return nil
}

// BusinessType tags a quotation line with its business category.
type BusinessType int

const (
	BusinessModernWork BusinessType = iota
	BusinessAzure
	BusinessAcronis
	BusinessPerpetual
	BusinessCopiers
	BusinessOther
)

var businessTypeNames = []string{"ModernWork", "Azure", "Acronis", "Perpetual", "Copiers", "Other"}

func (b BusinessType) String() string {
	if b < 0 || int(b) >= len(businessTypeNames) {
		return "BusinessType(" + strconv.Itoa(int(b)) + ")"
	}
	return businessTypeNames[b]
}

// MarshalJSON renders the business type by name.
func (b BusinessType) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts either the ordinal or the name.
func (b *BusinessType) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, businessTypeNames)
	if err != nil {
		return fmt.Errorf("business type: %w", err)
	}
	*b = BusinessType(v)
	return nil
}

// BusinessTypeOption is a key/name pair offered to quotation forms.
type BusinessTypeOption struct {
	Key  int    `json:"key"`
	Name string `json:"name"`
}

// BusinessTypeOptions lists every business category in ordinal order.
func BusinessTypeOptions() []BusinessTypeOption {
	out := make([]BusinessTypeOption, 0, len(businessTypeNames))
	for i, name := range businessTypeNames {
		out = append(out, BusinessTypeOption{Key: i, Name: name})
	}
	return out
}

func parseEnum(data []byte, names []string) (int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return 0, err
		}
		name = strings.TrimSpace(name)
		for i, candidate := range names {
			if strings.EqualFold(candidate, name) {
				return i, nil
			}
		}
		if n, err := strconv.Atoi(name); err == nil {
			return n, nil
		}
		return 0, fmt.Errorf("unknown value %q", name)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Line is a single priced quotation line.
type Line struct {
	BusinessType         BusinessType    `json:"businessType"`
	ProductID            string          `json:"productId"`
	ProductDescription   string          `json:"productDescription"`
	CostUnit             decimal.Decimal `json:"costUnit"`
	MarginPercent        decimal.Decimal `json:"marginPercent"`
	ContractMonths       int             `json:"contractMonths"`
	Quantity             int             `json:"quantity"`
	SuggestedRetailPrice decimal.Decimal `json:"suggestedRetailPrice"`
	// Accelerator boosts utility by a fraction of cost without touching sale price.
	Accelerator decimal.Decimal `json:"accelerator"`
}

// Scenario is a quotation submitted for calculation or export.
type Scenario struct {
	Name              string
	DealType          DealType
	RequiresProration bool
	StartDate         *time.Time
	EndDate           *time.Time
	Lines             []Line
}

// Result holds the outcome of a calculation. Utility figures are internal only.
type Result struct {
	TotalMonthlySale decimal.Decimal `json:"totalMonthlySale"`
	TotalSale        decimal.Decimal `json:"totalSale"`
	UtilityRaw       decimal.Decimal `json:"-"`
	UtilityAdjusted  decimal.Decimal `json:"-"`
	ProrationDays    int             `json:"prorationDays"`
	ProrationFactor  decimal.Decimal `json:"prorationFactor"`
	Points           decimal.Decimal `json:"points"`
	Commission       decimal.Decimal `json:"commission"`
}
