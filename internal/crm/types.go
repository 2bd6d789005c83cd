package crm

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
)

// Product is a priced catalog entry. Accelerator is returned so the caller can
// echo it back on quote lines; it is never rendered.
type Product struct {
	ID                   string           `json:"id"`
	Description          string           `json:"description"`
	PurchasePrice        *decimal.Decimal `json:"purchasePrice"`
	SuggestedRetailPrice *decimal.Decimal `json:"suggestedRetailPrice"`
	Accelerator          *decimal.Decimal `json:"accelerator"`
}

// Account is a customer account.
type Account struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
}

// User is the CRM system user behind the caller identity.
type User struct {
	SystemUserID string        `json:"systemUserId"`
	DisplayName  string        `json:"displayName"`
	Email        string        `json:"email"`
	Segment      quote.Segment `json:"segment"`
}

// odataList is the envelope of every OData collection response.
type odataList[T any] struct {
	Value []T `json:"value"`
}

type productRow struct {
	ID                   string      `json:"cr07a_precioscloudid"`
	Description          string      `json:"cr07a_priceableitemdescription"`
	PurchasePrice        flexDecimal `json:"cr07a_purchaseprice"`
	SuggestedRetailPrice flexDecimal `json:"cr07a_suggestedretailprice"`
	Accelerator          flexDecimal `json:"cr07a_acelerador"`
}

type accountRow struct {
	ID            string `json:"accountid"`
	Name          string `json:"name"`
	AccountNumber string `json:"accountnumber"`
}

type userRow struct {
	SystemUserID string          `json:"systemuserid"`
	FullName     string          `json:"fullname"`
	Email        string          `json:"internalemailaddress"`
	Segment      json.RawMessage `json:"cr07a_segmentocomercial"`
}

// flexDecimal accepts a JSON number, a numeric string or null. Anything that
// does not parse is treated as absent.
type flexDecimal struct {
	Value *decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	f.Value = nil
	raw := strings.TrimSpace(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if raw == "" || raw == "null" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	f.Value = &d
	return nil
}

// parseSegment maps the commercial segment field. It may hold the segment name
// or a numeric option set value.
func parseSegment(raw json.RawMessage) quote.Segment {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return quote.SegmentUnknown
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		trimmed = strings.TrimSpace(unquoted)
	}
	if trimmed == "" {
		return quote.SegmentUnknown
	}
	if opt, err := strconv.Atoi(trimmed); err == nil {
		switch opt {
		case 1:
			return quote.SegmentSMB
		case 2:
			return quote.SegmentCorporate
		case 3:
			return quote.SegmentSuper
		default:
			return quote.SegmentUnknown
		}
	}
	return quote.ParseSegment(trimmed)
}
