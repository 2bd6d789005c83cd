// Package scenario persists the quotation scenarios a seller saves between
// sessions, scoped to the seller's directory object id.
package scenario

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
)

// DefaultName is used when a scenario is saved without a name.
const DefaultName = "Scenario 1"

// SaveRequest is the editable content of a scenario.
type SaveRequest struct {
	ScenarioID        string         `json:"scenarioId"`
	ScenarioName      string         `json:"scenarioName"`
	DealType          quote.DealType `json:"dealType"`
	RequiresProration bool           `json:"requiresProration"`
	StartDate         *time.Time     `json:"startDate,omitempty"`
	EndDate           *time.Time     `json:"endDate,omitempty"`
	Lines             []quote.Line   `json:"lines"`
	LastResult        *LastResult    `json:"lastResult,omitempty"`
}

// LastResult is the visible outcome shown when the scenario was last calculated.
type LastResult struct {
	Points           decimal.Decimal `json:"points"`
	Commission       decimal.Decimal `json:"commission"`
	Segment          string          `json:"segment"`
	ProrationText    string          `json:"prorationText"`
	TotalMonthlySale decimal.Decimal `json:"totalMonthlySale"`
	TotalSale        decimal.Decimal `json:"totalSale"`
}

// Scenario is a stored scenario.
type Scenario struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	DealType          quote.DealType `json:"dealType"`
	RequiresProration bool           `json:"requiresProration"`
	StartDate         *time.Time     `json:"startDate,omitempty"`
	EndDate           *time.Time     `json:"endDate,omitempty"`
	Lines             []quote.Line   `json:"lines"`
	LastResult        *LastResult    `json:"lastResult,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Quote converts the stored scenario back into an engine input.
func (s Scenario) Quote() quote.Scenario {
	return quote.Scenario{
		Name:              s.Name,
		DealType:          s.DealType,
		RequiresProration: s.RequiresProration,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		Lines:             s.Lines,
	}
}
