// Package provisioning validates license provisioning requests, stores their
// approval attachment and hands them to the provisioning flow asynchronously.
package provisioning

import "github.com/shopspring/decimal"

// Request is a provisioning submission built from an accepted quotation.
type Request struct {
	Source       string       `json:"source"`
	BusinessID   string       `json:"businessId"`
	Requester    Requester    `json:"requester"`
	Client       Client       `json:"client"`
	Provisioning Provisioning `json:"provisioning"`
	Outcome      Outcome      `json:"outcome"`
	LineItems    []LineItem   `json:"lineItems"`
	Attachment   *Attachment  `json:"attachment,omitempty"`
}

// Requester identifies the seller submitting the request.
type Requester struct {
	SystemUserID string `json:"systemUserId"`
	DisplayName  string `json:"displayName"`
	Email        string `json:"email"`
}

// Client is the customer account being provisioned.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provisioning carries the requested date and contract type.
type Provisioning struct {
	Date              string `json:"date"`
	ContractTypeCode  string `json:"contractTypeCode"`
	ContractTypeLabel string `json:"contractTypeLabel"`
}

// Outcome echoes the visible quotation figures.
type Outcome struct {
	Points     decimal.Decimal `json:"points"`
	Commission decimal.Decimal `json:"commission"`
}

// LineItem is one product to provision.
type LineItem struct {
	LineID      string          `json:"lineId"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    decimal.Decimal `json:"quantity"`
	Number      decimal.Decimal `json:"number"`
}

// Attachment is the authorized offer or approval email, base64 encoded.
type Attachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Base64      string `json:"base64,omitempty"`
	// ObjectKey locates the stored copy once the content has been offloaded.
	ObjectKey string `json:"objectKey,omitempty"`
}

// Submission is returned once a request has been accepted for delivery.
type Submission struct {
	RequestID string `json:"requestId"`
	ObjectKey string `json:"objectKey,omitempty"`
}
