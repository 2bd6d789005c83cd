package calculator

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
	"github.com/sebastianruiz9504/calculadora/internal/scenario"
)

// Date accepts "YYYY-MM-DD", RFC 3339 timestamps, an empty string or null.
type Date struct {
	Time  time.Time
	Valid bool
}

func (d *Date) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = Date{}
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			*d = Date{Time: t, Valid: true}
			return nil
		}
	}
	return fmt.Errorf("date: %q is neither YYYY-MM-DD nor RFC 3339", raw)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(time.DateOnly))
}

// Ptr returns nil for an absent date.
func (d Date) Ptr() *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

// ScenarioInput is the quotation payload shared by calculate and export.
type ScenarioInput struct {
	ScenarioName      string         `json:"scenarioName" validate:"max=200"`
	DealType          quote.DealType `json:"dealType" validate:"gte=0,lte=4"`
	RequiresProration bool           `json:"requiresProration"`
	StartDate         Date           `json:"startDate"`
	EndDate           Date           `json:"endDate"`
	Lines             []LineInput    `json:"lines" validate:"max=500,dive"`
}

// LineInput is a quotation line as submitted by the form. Amounts are not
// range checked.
type LineInput struct {
	BusinessType         quote.BusinessType `json:"businessType" validate:"gte=0,lte=5"`
	ProductID            string             `json:"productId" validate:"max=100"`
	ProductDescription   string             `json:"productDescription" validate:"max=500"`
	CostUnit             decimal.Decimal    `json:"costUnit"`
	MarginPercent        decimal.Decimal    `json:"marginPercent"`
	ContractMonths       int                `json:"contractMonths"`
	Quantity             int                `json:"quantity"`
	SuggestedRetailPrice decimal.Decimal    `json:"suggestedRetailPrice"`
	Accelerator          decimal.Decimal    `json:"accelerator"`
}

func (l LineInput) toLine() quote.Line {
	return quote.Line{
		BusinessType:         l.BusinessType,
		ProductID:            strings.TrimSpace(l.ProductID),
		ProductDescription:   l.ProductDescription,
		CostUnit:             l.CostUnit,
		MarginPercent:        l.MarginPercent,
		ContractMonths:       l.ContractMonths,
		Quantity:             l.Quantity,
		SuggestedRetailPrice: l.SuggestedRetailPrice,
		Accelerator:          l.Accelerator,
	}
}

func (in ScenarioInput) toScenario() quote.Scenario {
	lines := make([]quote.Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, l.toLine())
	}
	return quote.Scenario{
		Name:              strings.TrimSpace(in.ScenarioName),
		DealType:          in.DealType,
		RequiresProration: in.RequiresProration,
		StartDate:         in.StartDate.Ptr(),
		EndDate:           in.EndDate.Ptr(),
		Lines:             lines,
	}
}

// SaveScenarioInput adds the identity and last visible result of a saved scenario.
type SaveScenarioInput struct {
	ScenarioInput
	ScenarioID string               `json:"scenarioId" validate:"omitempty,uuid"`
	LastResult *scenario.LastResult `json:"lastResult"`
}

func (in SaveScenarioInput) toSaveRequest() scenario.SaveRequest {
	s := in.toScenario()
	return scenario.SaveRequest{
		ScenarioID:        in.ScenarioID,
		ScenarioName:      s.Name,
		DealType:          s.DealType,
		RequiresProration: s.RequiresProration,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		Lines:             s.Lines,
		LastResult:        in.LastResult,
	}
}

// CalculationResponse exposes only the visible subset of a calculation.
// Amounts are rendered as exact two-place JSON numbers.
type CalculationResponse struct {
	Segment          string      `json:"segment"`
	Points           json.Number `json:"points"`
	Commission       json.Number `json:"commission"`
	ProrationDays    int         `json:"prorationDays"`
	ProrationFactor  json.Number `json:"prorationFactor"`
	ProrationText    string      `json:"prorationText,omitempty"`
	TotalMonthlySale json.Number `json:"totalMonthlySale"`
	TotalSale        json.Number `json:"totalSale"`
}

func money(v decimal.Decimal) json.Number {
	return json.Number(v.StringFixed(2))
}

func newCalculationResponse(s quote.Scenario, segment quote.Segment, r quote.Result) CalculationResponse {
	resp := CalculationResponse{
		Segment:          segment.String(),
		Points:           money(r.Points),
		Commission:       money(r.Commission),
		ProrationDays:    r.ProrationDays,
		ProrationFactor:  json.Number(r.ProrationFactor.String()),
		TotalMonthlySale: money(r.TotalMonthlySale),
		TotalSale:        money(r.TotalSale),
	}
	if r.ProrationDays > 0 {
		resp.ProrationText = fmt.Sprintf("%d days (%s to %s)", r.ProrationDays,
			s.StartDate.Format(time.DateOnly), s.EndDate.Format(time.DateOnly))
	}
	return resp
}

// MeResponse describes the caller for the quotation form.
type MeResponse struct {
	ObjectID      string                     `json:"objectId"`
	SystemUserID  string                     `json:"systemUserId,omitempty"`
	DisplayName   string                     `json:"displayName"`
	Email         string                     `json:"email"`
	Segment       string                     `json:"segment"`
	BusinessTypes []quote.BusinessTypeOption `json:"businessTypes"`
}
